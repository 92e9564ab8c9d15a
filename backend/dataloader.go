package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type dataLoaderCtxKey string

const dataLoaderKey dataLoaderCtxKey = "dataloader"

// DataLoaders holds the per-request loaders.
type DataLoaders struct {
	OwnerLoader *dataloader.Loader[string, *OwnerSummary]
}

func NewDataLoaders(db *sql.DB) *DataLoaders {
	return &DataLoaders{
		OwnerLoader: dataloader.NewBatchedLoader(
			ownerBatchFn(db),
			dataloader.WithWait[string, *OwnerSummary](16*time.Millisecond),
		),
	}
}

// GetDataLoadersFromContext retrieves dataloaders from context
func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

// WithDataLoaders adds dataloaders to context
func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// ownerBatchFn loads display name and avatar for a batch of user ids in one
// query. Unknown ids resolve to nil without an error.
func ownerBatchFn(db *sql.DB) dataloader.BatchFunc[string, *OwnerSummary] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*OwnerSummary] {
		results := make([]*dataloader.Result[*OwnerSummary], len(keys))
		index := make(map[string]int, len(keys))
		for i, key := range keys {
			index[key] = i
			results[i] = &dataloader.Result[*OwnerSummary]{}
		}
		if len(keys) == 0 {
			return results
		}

		rows, err := db.QueryContext(ctx, `
			SELECT u.id, COALESCE(p.full_name, ''), p.avatar_key
			FROM users u
			LEFT JOIN profiles p ON p.user_id = u.id
			WHERE u.id = ANY($1::uuid[])
		`, pq.Array(keys))
		if err != nil {
			for i := range results {
				results[i].Error = err
			}
			return results
		}
		defer rows.Close()

		for rows.Next() {
			var (
				o         OwnerSummary
				avatarKey sql.NullString
			)
			if err := rows.Scan(&o.ID, &o.DisplayName, &avatarKey); err != nil {
				for i := range results {
					if results[i].Data == nil {
						results[i].Error = err
					}
				}
				return results
			}
			if o.DisplayName == "" {
				o.DisplayName = Profile{}.DisplayName()
			}
			if avatarKey.Valid && avatarKey.String != "" {
				o.AvatarURL = avatarURL(o.ID)
			}
			if i, ok := index[o.ID]; ok {
				owner := o
				results[i].Data = &owner
			}
		}
		if err := rows.Err(); err != nil {
			for i := range results {
				if results[i].Data == nil {
					results[i].Error = err
				}
			}
		}

		return results
	}
}

// loadOwners resolves the owners of the given listings through the request's
// loader, or with a one-off loader when the middleware didn't run.
func (a *App) loadOwners(ctx context.Context, listings []Listing) map[string]*OwnerSummary {
	dl := GetDataLoadersFromContext(ctx)
	if dl == nil {
		dl = NewDataLoaders(a.db)
	}

	thunks := make(map[string]dataloader.Thunk[*OwnerSummary])
	for _, l := range listings {
		if l.OwnerID == nil {
			continue
		}
		if _, ok := thunks[*l.OwnerID]; !ok {
			thunks[*l.OwnerID] = dl.OwnerLoader.Load(ctx, *l.OwnerID)
		}
	}

	owners := make(map[string]*OwnerSummary, len(thunks))
	for id, thunk := range thunks {
		owner, err := thunk()
		if err != nil {
			a.log.Warn("loading listing owner", zap.String("owner_id", id), zap.Error(err))
			continue
		}
		if owner != nil {
			owners[id] = owner
		}
	}
	return owners
}
