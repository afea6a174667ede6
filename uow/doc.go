// Package uow implements the unit of work.
//
// A Coordinator journals saves and deletes in a Log, one Entry per instance,
// and sends them through its Target when flushed. Backends are asked to
// begin only when the first entry is sent; a plain transaction accepts one
// backend, a distributed one any number of two-phase capable backends.
//
//	c := uow.New(db, uow.WithRetry())
//	if err := c.Add(ctx, order); err != nil {
//		return err
//	}
//	if err := c.Commit(ctx); err != nil {
//		if strata.IsFatal(err) {
//			// listeners saw writes that were not committed
//		}
//		return errors.Join(err, c.Rollback(ctx, true))
//	}
//
// Committed logs are kept so that UndoCommit can apply their inverse in a
// new transaction.
package uow
