//go:build !linux

package ws

import "sync"

// poller is the portable fallback: one blocking reader goroutine per
// dashboard. Dashboards are few, so this costs little.
type poller struct {
	handle func(*Connection)
	mu     sync.Mutex
	conns  map[*Connection]struct{}
}

func newPoller(handle func(*Connection)) (*poller, error) {
	return &poller{handle: handle, conns: make(map[*Connection]struct{})}, nil
}

func (p *poller) add(c *Connection) error {
	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()

	go func() {
		for p.registered(c) {
			p.handle(c)
		}
	}()
	return nil
}

func (p *poller) registered(c *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[c]
	return ok
}

func (p *poller) remove(c *Connection) error {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	return nil
}

// run blocks until done; reads happen on the per-connection goroutines.
func (p *poller) run(done <-chan struct{}, _ func(*Connection)) error {
	<-done
	return nil
}

func (p *poller) close() error {
	p.mu.Lock()
	p.conns = make(map[*Connection]struct{})
	p.mu.Unlock()
	return nil
}
