package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomly",
			Name:      "match_score",
			Help:      "Compatibility scores handed out to viewers.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	listingSwipesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomly",
			Name:      "listing_swipes_total",
			Help:      "Recorded listing swipes.",
		},
		[]string{"action"},
	)

	chatChannelsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomly",
			Name:      "chat_channels_derived_total",
			Help:      "Chat channel keys derived from member sets.",
		},
		[]string{"kind", "truncated"},
	)

	geocodeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomly",
			Name:      "geocode_lookups_total",
			Help:      "Listing geocoding attempts by outcome.",
		},
		[]string{"outcome"},
	)
)
