// Package watcher follows a directory of source documents and starts a
// build when documents appear, change, or disappear.
//
// DirWatcher uses fsnotify and falls back to polling where fsnotify is not
// available (network mounts, some container volumes). Events are
// debounced so that a large copy produces one batch, and AutoBuilder turns
// each batch into at most one build job:
//
//	w, err := watcher.NewDirWatcher(watcher.Options{Filter: index.IsSupported})
//	if err != nil {
//	    return err
//	}
//	go w.Start(ctx, pdfDir)
//	build := func(ctx context.Context) (string, error) {
//	    return svc.Build(ctx, service.BuildRequest{PDFDir: pdfDir})
//	}
//	return watcher.NewAutoBuilder(build, logger).Run(ctx, w.Events())
package watcher
