// Package indexer keeps the SQLite history index in step with the audit
// log.
//
// The audit log is the source of truth and is only ever appended to. Each
// pass reads the complete lines written since the stored byte offset,
// parses them, and inserts the records together with the new offset in a
// single transaction, so the index never double counts or skips a record
// across crashes. A log that shrank is treated as replaced and is indexed
// again from the start.
//
// Example usage:
//
//	st, err := store.Open("~/.deploygate/history.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
//	// One-shot catch-up before a query
//	if _, err := indexer.Process(st, logPath, nil); err != nil {
//		log.Fatal(err)
//	}
//
//	// Or follow the log as it grows
//	w, err := indexer.NewWatcher(st, logPath, func(recs []audit.Record) {
//		for _, r := range recs {
//			fmt.Println(r.DeployableName, r.Result)
//		}
//	}, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package indexer
