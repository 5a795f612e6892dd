package push

import (
	"context"
	"fmt"
)

// Dispatcher routes requests to a provider by device platform. Android and
// web devices go through FCM, iOS devices through APNs.
type Dispatcher struct {
	providers map[string]PushProvider
}

func NewDispatcher(fcm, apns PushProvider) *Dispatcher {
	d := &Dispatcher{providers: make(map[string]PushProvider)}
	if fcm != nil {
		d.providers[PlatformAndroid] = fcm
		d.providers[PlatformWeb] = fcm
	}
	if apns != nil {
		d.providers[PlatformIOS] = apns
	}
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.providers) > 0
}

func (d *Dispatcher) Send(ctx context.Context, platform string, request *NotificationRequest) (*NotificationResponse, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	provider, ok := d.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return provider.SendNotification(ctx, request)
}
