package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordersync/internal/models"
)

func TestPresentationMapping(t *testing.T) {
	cases := []struct {
		status models.ActiveStatus
		label  string
		color  string
	}{
		{models.ActivePending, "Order confirmed", "#007AFF"},
		{models.ActiveConfirmed, "Order confirmed", "#007AFF"},
		{models.ActivePreparing, "Your order is being prepared", "#5856D6"},
		{models.ActiveOutForDelivery, "Order is on the way", "#FF9500"},
		{models.ActiveArrived, "Your order has arrived! 🎉", "#34C759"},
	}
	for _, tc := range cases {
		p := PresentationFor(tc.status)
		assert.Equal(t, tc.label, p.Label, string(tc.status))
		assert.Equal(t, tc.color, p.Color, string(tc.status))
	}
}

func TestAllSubscribersSeeSameValue(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	var banner, screen *Presentation
	b.Subscribe(func(p *Presentation) { banner = p })
	b.Subscribe(func(p *Presentation) { screen = p })

	b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActivePreparing})

	require.NotNil(t, banner)
	require.NotNil(t, screen)
	assert.Equal(t, *banner, *screen)
	assert.Equal(t, "Your order is being prepared", banner.Label)
}

func TestNilClearsEverySubscriberImmediately(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	calls := 0
	var last *Presentation
	b.Subscribe(func(p *Presentation) { calls++; last = p })

	b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActiveArrived})
	require.NotNil(t, last)

	b.Publish(nil)
	assert.Nil(t, last, "subscriber must clear in the same cycle")
	assert.Equal(t, 3, calls) // initial + publish + clear
	assert.Nil(t, b.Presentation())
}

func TestLateSubscriberGetsCurrentValue(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActiveOutForDelivery})

	var got *Presentation
	b.Subscribe(func(p *Presentation) { got = p })
	require.NotNil(t, got)
	assert.Equal(t, "Order is on the way", got.Label)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	calls := 0
	unsub := b.Subscribe(func(p *Presentation) { calls++ })
	unsub()
	b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActivePreparing})
	assert.Equal(t, 1, calls) // only the initial call
}

func TestSubscribeOrderedWithPublish(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	blocker := make(chan struct{})
	entered := make(chan struct{})
	b.Subscribe(func(p *Presentation) {
		if p != nil {
			close(entered)
			<-blocker
		}
	})
	go b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActivePreparing})
	<-entered

	// While that delivery is still in flight, a new subscriber must wait for
	// it rather than slip its snapshot in between.
	got := make(chan *Presentation, 1)
	done := make(chan struct{})
	go func() {
		b.Subscribe(func(p *Presentation) {
			select {
			case got <- p:
			default:
			}
		})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("subscribe completed while a publish delivery was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(blocker)
	<-done
	p := <-got
	require.NotNil(t, p)
	assert.Equal(t, "restaurant", p.Icon, "snapshot reflects the publish it waited behind")
}

func TestPresentationRecomputedPerRead(t *testing.T) {
	b := New(zaptest.NewLogger(t))
	b.Publish(&models.ActiveOrder{ID: "o1", Status: models.ActivePreparing})

	p1 := b.Presentation()
	p2 := b.Presentation()
	require.NotNil(t, p1)
	assert.Equal(t, *p1, *p2)
	assert.NotSame(t, p1, p2)
}
