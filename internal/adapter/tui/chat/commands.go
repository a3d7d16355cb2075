package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"chatstream/internal/domain"
)

// openStreamCmd starts the request in a background goroutine. gen identifies
// the request so results from cancelled requests can be discarded.
func openStreamCmd(ctx context.Context, s Streamer, prompt, id string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		ch, err := s.Stream(ctx, prompt, id)
		if err != nil {
			return StreamClosedMsg{Err: err, Gen: gen}
		}
		return streamOpenedMsg{Gen: gen, MessageID: id, Events: ch}
	}
}

// waitForEventCmd blocks until the next event arrives on ch.
func waitForEventCmd(ch <-chan domain.StreamEvent, gen uint64) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{Gen: gen}
		}
		return StreamEventMsg{Event: ev, Gen: gen}
	}
}

// cancelStreamCmd asks the server to stop id's generation.
func cancelStreamCmd(s Streamer, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := s.Cancel(ctx, id)
		return CancelResultMsg{MessageID: id, Cancelled: ok, Err: err}
	}
}

// streamTickCmd fires a StreamTickMsg for request gen after rate.
func streamTickCmd(rate time.Duration, gen uint64) tea.Cmd {
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	return tea.Tick(rate, func(time.Time) tea.Msg {
		return StreamTickMsg{Gen: gen}
	})
}

// collapseThinkingCmd folds id's reasoning block after delay.
func collapseThinkingCmd(delay time.Duration, id string) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return CollapseThinkingMsg{MessageID: id}
	})
}
