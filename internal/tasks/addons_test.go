package tasks

import (
	"errors"
	"fmt"
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// taggingAddon appends its tag to every record it sees.
type taggingAddon struct {
	BaseAddon
	tag string
}

func (a *taggingAddon) Name() string { return a.tag }

func (a *taggingAddon) OnBefore(_ *models.ScriptObject, records models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	for _, rec := range records {
		rec["Tags"] = rec.GetString("Tags") + a.tag
	}
	return records, nil
}

// failingAddon aborts its filter hook.
type failingAddon struct {
	BaseAddon
}

func (failingAddon) Name() string { return "failing" }

func (failingAddon) FilterRecords(_ *models.ScriptObject, _ models.RecordSet, _ *PassContext) (models.RecordSet, error) {
	return nil, fmt.Errorf("nope")
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	registry.Register("tagger", func() Addon { return &taggingAddon{tag: "x"} })

	addons, err := registry.Resolve([]string{"tagger"})
	if err != nil || len(addons) != 1 {
		t.Fatalf("Resolve() = %v, %v", addons, err)
	}

	if _, err := registry.Resolve([]string{"missing"}); !errors.Is(err, shared.ErrInvalidScript) {
		t.Errorf("Resolve(missing) error = %v, want ErrInvalidScript", err)
	}
}

func TestAddonHooksRunInOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register("a", func() Addon { return &taggingAddon{tag: "a"} })
	registry.Register("b", func() Addon { return &taggingAddon{tag: "b"} })

	obj := &models.ScriptObject{Name: "Account", Addons: []string{"a", "b"}}
	set, err := resolveAddons(registry, []*models.ScriptObject{obj})
	if err != nil {
		t.Fatalf("resolveAddons() error = %v", err)
	}

	records := models.RecordSet{{"Tags": ""}}
	pctx := &PassContext{Object: "Account", Pass: 1, FirstPass: true}
	records, err = set.OnBefore(obj, records, pctx)
	if err != nil {
		t.Fatalf("OnBefore() error = %v", err)
	}
	if got := records[0].GetString("Tags"); got != "ab" {
		t.Errorf("Tags = %q, want hooks applied in declaration order ab", got)
	}
}

func TestAddonAbortWrapsError(t *testing.T) {
	registry := NewRegistry()
	registry.Register("failing", func() Addon { return failingAddon{} })

	obj := &models.ScriptObject{Name: "Account", Addons: []string{"failing"}}
	set, err := resolveAddons(registry, []*models.ScriptObject{obj})
	if err != nil {
		t.Fatalf("resolveAddons() error = %v", err)
	}

	_, err = set.FilterRecords(obj, models.RecordSet{{}}, &PassContext{Object: "Account", Pass: 1, FirstPass: true})
	if !errors.Is(err, shared.ErrAddonAbort) {
		t.Errorf("FilterRecords() error = %v, want ErrAddonAbort", err)
	}
}

func TestAddonsSkipUndeclaredObjects(t *testing.T) {
	registry := NewRegistry()
	registry.Register("failing", func() Addon { return failingAddon{} })

	declared := &models.ScriptObject{Name: "Account", Addons: []string{"failing"}}
	other := &models.ScriptObject{Name: "Contact"}
	set, err := resolveAddons(registry, []*models.ScriptObject{declared, other})
	if err != nil {
		t.Fatalf("resolveAddons() error = %v", err)
	}

	records, err := set.FilterRecords(other, models.RecordSet{{"Name": "x"}}, &PassContext{Object: "Contact", Pass: 1, FirstPass: true})
	if err != nil || len(records) != 1 {
		t.Errorf("hooks ran for an object without add-ons: %v, %v", records, err)
	}
}
