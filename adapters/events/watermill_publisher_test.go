package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/gatekeeper/core"
)

func TestWatermillPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	logins, err := pubSub.Subscribe(ctx, LoginTopic)
	require.NoError(t, err)
	logouts, err := pubSub.Subscribe(ctx, LogoutTopic)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub)
	session := &core.Session{ID: "s-1", UserID: "u-1", Method: core.AuthMethodWallet}

	require.NoError(t, pub.PublishLogin(ctx, session))
	require.NoError(t, pub.PublishLogout(ctx, session))

	for topic, ch := range map[string]<-chan *message.Message{LoginTopic: logins, LogoutTopic: logouts} {
		select {
		case msg := <-ch:
			var event SessionEvent
			require.NoError(t, json.Unmarshal(msg.Payload, &event))
			assert.Equal(t, "s-1", event.SessionID, topic)
			assert.Equal(t, "u-1", event.UserID, topic)
			assert.Equal(t, core.AuthMethodWallet, event.Method, topic)
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("no event on %s", topic)
		}
	}
}
