//go:build linux

package ws

import (
	"errors"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitTimeoutMs bounds each epoll_wait so the loop notices shutdown.
const waitTimeoutMs = 250

// poller multiplexes dashboard reads over one epoll instance.
type poller struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]*Connection // socket fd -> connection
	events []unix.EpollEvent
}

// newPoller creates the epoll instance. The handle callback is only used by
// the portable fallback.
func newPoller(func(*Connection)) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		fd:     fd,
		conns:  make(map[int]*Connection),
		events: make([]unix.EpollEvent, 64),
	}, nil
}

func (p *poller) add(c *Connection) error {
	c.fd = socketFD(c)
	if c.fd < 0 {
		return errors.New("ws: connection has no socket descriptor")
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, c.fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(c.fd),
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[c.fd] = c
	p.mu.Unlock()
	return nil
}

func (p *poller) remove(c *Connection) error {
	p.mu.Lock()
	if p.conns[c.fd] != c {
		p.mu.Unlock()
		return nil
	}
	delete(p.conns, c.fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, c.fd, nil)
}

// run waits for readable connections and passes each to dispatch until done
// is closed.
func (p *poller) run(done <-chan struct{}, dispatch func(*Connection)) error {
	for {
		select {
		case <-done:
			return nil
		default:
		}

		n, err := unix.EpollWait(p.fd, p.events, waitTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}

		p.mu.RLock()
		ready := make([]*Connection, 0, n)
		for i := 0; i < n; i++ {
			if c, ok := p.conns[int(p.events[i].Fd)]; ok {
				ready = append(ready, c)
			}
		}
		p.mu.RUnlock()

		for _, c := range ready {
			dispatch(c)
		}
	}
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = make(map[int]*Connection)
	return unix.Close(p.fd)
}

// socketFD returns the descriptor behind the connection without dup'ing it.
func socketFD(c *Connection) int {
	sc, ok := c.Conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
