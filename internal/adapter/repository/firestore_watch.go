package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

// firestoreError maps a Firestore RPC failure onto the app taxonomy.
// Connectivity and contention codes are transient; the rest are not worth
// retrying (bad query, missing index, permissions).
func firestoreError(message string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound(message, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unknown:
		return errors.TransientStore(message, err)
	default:
		return errors.Internal(message, err)
	}
}

// watchQuery runs a realtime listener on q and hands every snapshot to
// deliver. A broken listener is reopened by watch.Loop, and the reopened
// listener starts with a complete snapshot.
func watchQuery(ctx context.Context, policy watch.Policy, name string, q firestore.Query, deliver func([]*firestore.DocumentSnapshot) error) error {
	return watch.Loop(ctx, policy, name, func(ctx context.Context, healthy func()) error {
		it := q.Snapshots(ctx)
		defer it.Stop()

		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return firestoreError("Listener for "+name+" failed", err)
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				return firestoreError("Failed to read snapshot for "+name, err)
			}
			if err := deliver(docs); err != nil {
				return err
			}
			healthy()
		}
	})
}
