package aifs

// Close persists the vector index and releases the metadata plane.
// Safe to call multiple times; operations after Close return ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.events.Close()

	var firstErr error
	if !e.opts.inMemory {
		if err := e.index.Save(e.indexPath()); err != nil {
			e.logger.Error("index save failed", "error", err)
			firstErr = err
		}
	}
	if err := e.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Info("engine closed", "dir", e.dir)
	return firstErr
}
