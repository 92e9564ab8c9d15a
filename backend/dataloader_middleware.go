package main

import (
	"net/http"
)

// dataLoaderMiddleware gives every request fresh loaders so nothing is cached
// across users.
func (a *App) dataLoaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithDataLoaders(r.Context(), NewDataLoaders(a.db))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
