package cmd

import (
	"log/slog"
	"net/http"

	"github.com/fractal-assets/flowengine/pkg/actions/dealstatus"
	"github.com/fractal-assets/flowengine/pkg/actions/delay"
	"github.com/fractal-assets/flowengine/pkg/actions/document"
	"github.com/fractal-assets/flowengine/pkg/actions/notification"
	"github.com/fractal-assets/flowengine/pkg/actions/sendemail"
	"github.com/fractal-assets/flowengine/pkg/actions/webhook"
	"github.com/fractal-assets/flowengine/pkg/eventbus"
	"github.com/fractal-assets/flowengine/pkg/persistence"
	"github.com/fractal-assets/flowengine/pkg/registry"
)

func registerNativeActions(reg *registry.Registry, store persistence.Persistence, publisher eventbus.EventPublisher) {
	reg.RegisterAction(sendemail.NewActionFactory(store.EmailTemplateRepository(), store.UserRepository(), publisher))
	reg.RegisterAction(webhook.NewActionFactory(http.DefaultClient))
	reg.RegisterAction(dealstatus.NewActionFactory(store.DealRepository()))
	reg.RegisterAction(delay.NewActionFactory())
	reg.RegisterAction(notification.NewActionFactory(publisher))
	reg.RegisterAction(document.NewActionFactory(publisher))
}

// NewRegistry registers the built-in actions, then any plugins found under pluginsPath.
// A plugin may replace a built-in action by using the same type.
func NewRegistry(
	log *slog.Logger,
	pluginsPath string,
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg, store, publisher)

	if pluginsPath != "" {
		if err := reg.LoadActionPlugins(pluginsPath); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
