package ws

import (
	"log"
	"time"
)

// HeartbeatConfig controls liveness checks. A zero Interval disables them.
type HeartbeatConfig struct {
	Interval time.Duration
	Grace    time.Duration // extra silence tolerated after a missed ping
}

// DefaultHeartbeatConfig pings every 30s and gives up after 40s of silence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 30 * time.Second, Grace: 10 * time.Second}
}

// heartbeat runs until the server is shut down.
func (s *Server) heartbeat() {
	hb := s.config.Heartbeat
	if hb.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			for _, c := range s.sweepIdle(now, hb.Interval+hb.Grace) {
				s.RemoveConnection(c)
			}
		}
	}
}

// sweepIdle pings live dashboards and returns those to detach: silent for
// longer than limit, or whose ping could not be written.
func (s *Server) sweepIdle(now time.Time, limit time.Duration) []*Connection {
	var dead []*Connection
	for _, c := range s.conns.All() {
		idle := now.Sub(c.LastSeen())
		if idle > limit {
			log.Printf("ws: dashboard idle session=%s idle=%s", c.ID, idle.Round(time.Second))
			dead = append(dead, c)
			continue
		}
		if err := c.WritePing(); err != nil {
			log.Printf("ws: ping session=%s: %v", c.ID, err)
			dead = append(dead, c)
		}
	}
	return dead
}
