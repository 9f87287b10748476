package tasks

import (
	"fmt"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// PassContext describes the task and pass an add-on hook runs under.
type PassContext struct {
	Object    string
	Pass      int
	FirstPass bool
}

// Addon receives lifecycle events around a task's update phase. Hooks
// are handed the task's temporary record buffer and may return a
// mutated one; returning an error aborts the run.
type Addon interface {
	Name() string
	OnBefore(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error)
	OnAfter(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error)
	OnBeforeUpdate(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error)
	OnAfterUpdate(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error)
	FilterRecords(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error)
}

// BaseAddon is a no-op implementation for embedding, so add-ons only
// override the hooks they care about.
type BaseAddon struct{}

func (BaseAddon) OnBefore(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return records, nil
}

func (BaseAddon) OnAfter(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return records, nil
}

func (BaseAddon) OnBeforeUpdate(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return records, nil
}

func (BaseAddon) OnAfterUpdate(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return records, nil
}

func (BaseAddon) FilterRecords(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return records, nil
}

// Registry maps declared add-on names to factories. Names are resolved
// once at job construction, so a typo in the script fails fast instead
// of at hook time.
type Registry struct {
	factories map[string]func() Addon
}

// NewRegistry creates an empty add-on registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Addon)}
}

// Register binds a factory to an add-on name. Later registrations
// replace earlier ones.
func (r *Registry) Register(name string, factory func() Addon) {
	r.factories[name] = factory
}

// Resolve instantiates the named add-ons.
func (r *Registry) Resolve(names []string) ([]Addon, error) {
	out := make([]Addon, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown addon %q", shared.ErrInvalidScript, name)
		}
		out = append(out, factory())
	}
	return out, nil
}

// addonSet holds the resolved add-on instances per object.
type addonSet struct {
	byObject map[string][]Addon
}

func resolveAddons(registry *Registry, objects []*models.ScriptObject) (*addonSet, error) {
	set := &addonSet{byObject: make(map[string][]Addon)}
	if registry == nil {
		return set, nil
	}
	for _, obj := range objects {
		if len(obj.Addons) == 0 {
			continue
		}
		addons, err := registry.Resolve(obj.Addons)
		if err != nil {
			return nil, err
		}
		set.byObject[obj.Name] = addons
	}
	return set, nil
}

type addonHook func(Addon, *models.ScriptObject, models.RecordSet, *PassContext) (models.RecordSet, error)

func (s *addonSet) run(hook addonHook, obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	for _, a := range s.byObject[obj.Name] {
		var err error
		records, err = hook(a, obj, records, pctx)
		if err != nil {
			return nil, fmt.Errorf("%w: addon %s on %s: %v", shared.ErrAddonAbort, a.Name(), obj.Name, err)
		}
	}
	return records, nil
}

func (s *addonSet) OnBefore(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	return s.run(Addon.OnBefore, obj, records, pctx)
}

func (s *addonSet) OnAfter(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	return s.run(Addon.OnAfter, obj, records, pctx)
}

func (s *addonSet) OnBeforeUpdate(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	return s.run(Addon.OnBeforeUpdate, obj, records, pctx)
}

func (s *addonSet) OnAfterUpdate(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	return s.run(Addon.OnAfterUpdate, obj, records, pctx)
}

func (s *addonSet) FilterRecords(obj *models.ScriptObject, records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	return s.run(Addon.FilterRecords, obj, records, pctx)
}
