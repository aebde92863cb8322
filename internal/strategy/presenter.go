package strategy

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Surface is a place a presence can be shown.
type Surface string

const (
	SurfaceNotification Surface = "notification"
	SurfaceMediaSession Surface = "media_session"
	SurfaceOnePixel     Surface = "one_pixel"
	SurfaceLockScreen   Surface = "lock_screen"
	SurfaceOverlay      Surface = "overlay"
)

// Presentation is what a presence shows on a surface.
type Presentation struct {
	Surface     Surface
	ChannelID   string
	ChannelName string
	Title       string
	Content     string
	Hidden      bool
}

// Presenter renders presences. Rendering itself is outside this module; the
// default implementation only logs and tracks what is shown.
type Presenter interface {
	CanPresent(s Surface) bool
	Present(ctx context.Context, p Presentation) error
	Withdraw(ctx context.Context, s Surface) error
}

// LogPresenter is a Presenter that records presentations and logs them.
type LogPresenter struct {
	log *slog.Logger

	mu          sync.Mutex
	unsupported []Surface
	active      map[Surface]Presentation
}

// NewLogPresenter returns a presenter that refuses the given surfaces.
func NewLogPresenter(unsupported ...Surface) *LogPresenter {
	return &LogPresenter{
		log:         slog.With("component", "presenter"),
		unsupported: unsupported,
		active:      make(map[Surface]Presentation),
	}
}

func (p *LogPresenter) CanPresent(s Surface) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !slices.Contains(p.unsupported, s)
}

func (p *LogPresenter) Present(_ context.Context, pr Presentation) error {
	p.mu.Lock()
	p.active[pr.Surface] = pr
	p.mu.Unlock()
	p.log.Info("presenting", "surface", pr.Surface, "title", pr.Title, "hidden", pr.Hidden)
	return nil
}

func (p *LogPresenter) Withdraw(_ context.Context, s Surface) error {
	p.mu.Lock()
	_, ok := p.active[s]
	delete(p.active, s)
	p.mu.Unlock()
	if ok {
		p.log.Info("withdrawn", "surface", s)
	}
	return nil
}

// Active returns the surfaces currently shown, sorted.
func (p *LogPresenter) Active() []Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Surface, 0, len(p.active))
	for s := range p.active {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
