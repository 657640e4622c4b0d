package transport

import "time"

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// reconnectDelay returns the exponential backoff delay for the given
// attempt, capped at maxReconnectDelay. Attempt counts from 0.
func reconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift so large attempt counts cannot overflow.
	if attempt > 30 {
		return maxReconnectDelay
	}
	d := baseReconnectDelay << uint(attempt)
	if d > maxReconnectDelay || d <= 0 {
		return maxReconnectDelay
	}
	return d
}
