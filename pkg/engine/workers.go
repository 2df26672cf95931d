package engine

// workerPool processes track chains in parallel. The audio thread posts
// every track and then blocks until all of them report back, so a chunk
// never straddles two callbacks. Sends and receives on the buffered
// channels do not allocate.
type workerPool struct {
	jobs chan *Track
	done chan struct{}
}

func newWorkerPool(workers int) *workerPool {
	p := &workerPool{
		jobs: make(chan *Track, maxTracks),
		done: make(chan struct{}, maxTracks),
	}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *workerPool) run() {
	for tr := range p.jobs {
		tr.ProcessAudio(&tr.input, &tr.output)
		p.done <- struct{}{}
	}
}

// process renders all tracks and waits for the barrier.
func (p *workerPool) process(tracks []*Track) {
	for _, tr := range tracks {
		p.jobs <- tr
	}
	for range tracks {
		<-p.done
	}
}

func (p *workerPool) close() {
	close(p.jobs)
}
