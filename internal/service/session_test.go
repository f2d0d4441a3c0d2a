package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/storage/memory"
)

func newSessionFixture(t *testing.T, cfg linking.SimulatorConfig) (*SessionService, *memory.Store, *ReplyService) {
	t.Helper()
	store := memory.NewStore()
	sim := linking.NewSimulator(cfg, nil)
	t.Cleanup(sim.Stop)

	replies := NewReplyService(store, store, nil)
	sessions := NewSessionService(sim, store, replies.HandleInbound, nil)
	t.Cleanup(func() { _ = sessions.Close() })
	return sessions, store, replies
}

func waitSessionStatus(t *testing.T, store *memory.Store, ownerID string, want domain.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := store.GetSession(context.Background(), ownerID)
		return err == nil && s.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionService_ConnectAndLink(t *testing.T) {
	sessions, store, _ := newSessionFixture(t, linking.SimulatorConfig{
		PairingDelayMin: 20 * time.Millisecond,
		PairingDelayMax: 20 * time.Millisecond,
	})
	ctx := context.Background()

	session, err := sessions.Connect(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, session.Status)
	assert.NotEmpty(t, session.QRCode)

	err = sessions.Send(ctx, &domain.Message{ID: "m1", OwnerID: "owner-1", Recipients: []string{"+1"}})
	assert.ErrorIs(t, err, linking.ErrNotLinked)

	waitSessionStatus(t, store, "owner-1", domain.SessionStatusLinked)

	got, err := sessions.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, domain.SessionStatusLinked, got.Status)
}

func TestSessionService_SendWithoutConnection(t *testing.T) {
	sessions, _, _ := newSessionFixture(t, linking.SimulatorConfig{})

	err := sessions.Send(context.Background(), &domain.Message{ID: "m1", OwnerID: "nobody"})
	assert.ErrorIs(t, err, linking.ErrNotLinked)

	_, err = sessions.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = sessions.Disconnect(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionService_ReconnectReplacesSession(t *testing.T) {
	sessions, store, _ := newSessionFixture(t, linking.SimulatorConfig{
		PairingDelayMin: time.Hour,
		PairingDelayMax: time.Hour,
	})
	ctx := context.Background()

	first, err := sessions.Connect(ctx, "owner-1")
	require.NoError(t, err)
	second, err := sessions.Connect(ctx, "owner-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stored, err := store.GetSession(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.ID)
	assert.Equal(t, domain.SessionStatusPending, stored.Status)
}

func TestSessionService_Disconnect(t *testing.T) {
	sessions, store, _ := newSessionFixture(t, linking.SimulatorConfig{})
	ctx := context.Background()

	_, err := sessions.Connect(ctx, "owner-1")
	require.NoError(t, err)
	waitSessionStatus(t, store, "owner-1", domain.SessionStatusLinked)

	session, err := sessions.Disconnect(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusDisconnected, session.Status)

	stored, err := store.GetSession(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusDisconnected, stored.Status)

	err = sessions.Send(ctx, &domain.Message{ID: "m1", OwnerID: "owner-1", Recipients: []string{"+1"}})
	assert.ErrorIs(t, err, linking.ErrNotLinked)
}

func TestSessionService_QRExpiry(t *testing.T) {
	sessions, store, _ := newSessionFixture(t, linking.SimulatorConfig{
		PairingDelayMin: time.Hour,
		PairingDelayMax: time.Hour,
		QRTTL:           20 * time.Millisecond,
	})

	_, err := sessions.Connect(context.Background(), "owner-1")
	require.NoError(t, err)
	waitSessionStatus(t, store, "owner-1", domain.SessionStatusExpired)

	err = sessions.Send(context.Background(), &domain.Message{ID: "m1", OwnerID: "owner-1"})
	assert.ErrorIs(t, err, linking.ErrNotLinked)
}

func TestSessionService_SimulatedRepliesReachStore(t *testing.T) {
	sessions, store, replies := newSessionFixture(t, linking.SimulatorConfig{
		ReplyDelayMin: 10 * time.Millisecond,
		ReplyDelayMax: 10 * time.Millisecond,
	})
	ctx := context.Background()

	messages := NewMessageService(store, store, sessions, MessageOptions{}, nil)

	_, err := sessions.Connect(ctx, "owner-1")
	require.NoError(t, err)
	waitSessionStatus(t, store, "owner-1", domain.SessionStatusLinked)

	msg, err := messages.Create(ctx, CreateMessageInput{
		OwnerID:    "owner-1",
		Content:    "Hello",
		Recipients: []string{"+1", "+2", "+3", "+4"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := replies.RepliesFor(ctx, msg.ID)
		return err == nil && len(got) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// 等待同一批回复全部到达
	time.Sleep(50 * time.Millisecond)
	got, err := replies.RepliesFor(ctx, msg.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 3)
	for i, r := range got {
		assert.Equal(t, msg.Recipients[i], r.SenderID)
		assert.Contains(t, linking.CannedReplies, r.Content)
		assert.Equal(t, "owner-1", r.OwnerID)
	}

	listed, err := messages.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, len(got), listed.ReplyCount)
}
