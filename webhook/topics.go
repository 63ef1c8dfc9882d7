package webhook

import (
	"context"
	"strings"
)

// Topics handled by this package
const (
	TopicAppUninstalled = "app/uninstalled"
)

// TopicHandler processes one verified notification. Returning an error makes
// the handler refuse acknowledgement so the platform redelivers.
type TopicHandler func(ctx context.Context, n Notification) error

// Routes maps canonical topics to handlers.
type Routes map[string]TopicHandler

// Uninstaller deactivates every credential of a tenant.
type Uninstaller interface {
	OnUninstall(ctx context.Context, tenant string) (int, error)
}

// UninstallRoutes returns the default table: app/uninstalled deactivates the
// notification's tenant.
func UninstallRoutes(u Uninstaller) Routes {
	return Routes{
		TopicAppUninstalled: func(ctx context.Context, n Notification) error {
			_, err := u.OnUninstall(ctx, n.Tenant)
			return err
		},
	}
}

// CanonicalTopic maps both the REST form ("app/uninstalled") and the GraphQL
// enum form ("APP_UNINSTALLED", "APP_SUBSCRIPTIONS_UPDATE") to the lowercase
// REST form. The enum's last underscore separates resource from event.
func CanonicalTopic(topic string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" || strings.Contains(topic, "/") {
		return topic
	}
	if i := strings.LastIndex(topic, "_"); i > 0 {
		return topic[:i] + "/" + topic[i+1:]
	}
	return topic
}
