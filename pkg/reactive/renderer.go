package reactive

import (
	"fmt"

	"github.com/vango-dev/resume/pkg/qrl"
)

// Renderer is a subscriber owned by the rendering layer. It runs after all
// tasks and computeds of a flush. A new renderer is scheduled for the next
// flush.
type Renderer struct {
	sub *subscriber
	fn  RenderFunc
}

// NewRenderer creates a renderer. body is a *qrl.Symbol or a RenderFunc.
// Renderers with Go function bodies are skipped by serialization.
func (c *Container) NewRenderer(body any) *Renderer {
	r := c.newRenderer()
	switch b := body.(type) {
	case *qrl.Symbol:
		r.sub.sym = b
	case RenderFunc:
		r.fn = b
	case func(*Scope):
		r.fn = b
	default:
		panic(fmt.Sprintf("reactive: unsupported renderer body %T", body))
	}
	c.addSubscriber(r.sub)
	c.schedule(r.sub)
	return r
}

// RestoreRenderer recreates a renderer from a snapshot.
func (c *Container) RestoreRenderer(body func() (*qrl.Symbol, error), deps []Dep) *Renderer {
	r := c.newRenderer()
	r.sub.symThunk = body
	c.addSubscriber(r.sub)
	c.restore(r.sub, deps)
	return r
}

func (c *Container) newRenderer() *Renderer {
	r := &Renderer{sub: newSubscriber(c, KindRenderer)}
	r.sub.self = r
	r.sub.perform = r.perform
	return r
}

func (r *Renderer) perform() error {
	if r.fn != nil {
		_, err := r.sub.invokeFunc(func(s *Scope) (any, error) { r.fn(s); return nil, nil })
		return err
	}
	_, _, err := r.sub.invokeSymbol()
	return err
}

// ID returns the unique identifier for this renderer.
func (r *Renderer) ID() uint64 { return r.sub.id }

// Kind returns KindRenderer.
func (r *Renderer) Kind() Kind { return KindRenderer }

// Symbol returns the body symbol, or nil for a Go function body.
func (r *Renderer) Symbol() (*qrl.Symbol, error) { return r.sub.symbol() }

// Deps returns the dependencies recorded by the most recent run.
func (r *Renderer) Deps() []DepRef { return r.sub.depRefs() }

// Runs returns how many times the body has run.
func (r *Renderer) Runs() int64 { return r.sub.runs.Load() }

// Dispose unsubscribes the renderer.
func (r *Renderer) Dispose() { r.sub.dispose() }

func (r *Renderer) base() *subscriber { return r.sub }
