package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlates struct {
	plates map[int][]string
	err    error
	calls  int
}

func (f *fakePlates) PlatesForCompany(_ context.Context, companyID int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.plates[companyID], nil
}

// attach registers a test client without a real WebSocket connection.
func attach(h *Hub, stream string, companyID int, plate string) *Client {
	c := &Client{
		send:      make(chan []byte, 4),
		hub:       h,
		stream:    stream,
		companyID: companyID,
		plate:     plate,
	}
	h.mu.Lock()
	h.streams[stream][c] = true
	h.mu.Unlock()
	return c
}

func received(c *Client) []string {
	var out []string
	for {
		select {
		case msg := <-c.send:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestBroadcastPlateFiltering(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111", "CCC-333"}}}
	h := New(plates, nil)

	owner := attach(h, StreamGPS, 7, "")
	stranger := attach(h, StreamGPS, 8, "")
	privileged := attach(h, StreamGPS, PrivilegedCompanyID, "")
	unfiltered := attach(h, StreamGPS, -1, "")
	plateOnly := attach(h, StreamGPS, -1, "BBB-222")
	otherStream := attach(h, StreamSensor, -1, "")

	msg := []byte(`{"licensePlateNumber":"AAA-111","vehicleId":"v1"}`)
	h.Broadcast(context.Background(), StreamGPS, msg)

	assert.Len(t, received(owner), 1, "company owning the plate receives")
	assert.Empty(t, received(stranger), "other company does not")
	assert.Len(t, received(privileged), 1, "company 2 sees everything")
	assert.Len(t, received(unfiltered), 1, "unscoped subscriber receives")
	assert.Empty(t, received(plateOnly), "plate filter excludes other plates")
	assert.Empty(t, received(otherStream), "other streams stay silent")
}

func TestBroadcastPlateFilterBoundedByAllowList(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111"}}}
	h := New(plates, nil)

	// A plate filter must never widen access past the company's plates.
	foreign := attach(h, StreamGPS, 7, "TRL-999")
	owned := attach(h, StreamGPS, 7, "AAA-111")
	privileged := attach(h, StreamGPS, PrivilegedCompanyID, "TRL-999")

	h.Broadcast(context.Background(), StreamGPS, []byte(`{"licensePlateNumber":"TRL-999"}`))
	h.Broadcast(context.Background(), StreamGPS, []byte(`{"licensePlateNumber":"AAA-111"}`))

	assert.Empty(t, received(foreign), "plate filter on an unowned plate receives nothing")
	gotOwned := received(owned)
	require.Len(t, gotOwned, 1)
	assert.Contains(t, gotOwned[0], "AAA-111")
	assert.Len(t, received(privileged), 1, "company 2 keeps its plate filter but skips the allow-list")
}

func TestBroadcastCompanyAndPlateFilterIntersect(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111", "CCC-333"}}}
	h := New(plates, nil)

	c := attach(h, StreamGPS, 7, "AAA-111")

	h.Broadcast(context.Background(), StreamGPS, []byte(`{"licensePlateNumber":"CCC-333"}`))
	assert.Empty(t, received(c), "owned plate outside the pn filter is excluded")

	h.Broadcast(context.Background(), StreamGPS, []byte(`{"licensePlateNumber":"AAA-111"}`))
	assert.Len(t, received(c), 1)
}

func TestBroadcastSinglePlateSubscriber(t *testing.T) {
	h := New(&fakePlates{}, nil)
	c := attach(h, StreamSensor, -1, "BBB-222")

	h.Broadcast(context.Background(), StreamSensor, []byte(`{"licensePlateNumber":"BBB-222"}`))
	h.Broadcast(context.Background(), StreamSensor, []byte(`{"licensePlateNumber":"AAA-111"}`))

	got := received(c)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "BBB-222")
}

func TestBroadcastNoPlateGoesOnlyToUnscoped(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111"}}}
	h := New(plates, nil)

	scoped := attach(h, StreamTest, 7, "")
	unscoped := attach(h, StreamTest, -1, "")

	h.Broadcast(context.Background(), StreamTest, []byte(`{"hello":"world"}`))

	assert.Empty(t, received(scoped))
	assert.Len(t, received(unscoped), 1)
}

func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	h := New(&fakePlates{}, nil)
	c := attach(h, StreamGPS, -1, "")

	for i := 0; i < cap(c.send)+3; i++ {
		h.Broadcast(context.Background(), StreamGPS, []byte(`{"licensePlateNumber":"AAA-111"}`))
	}
	assert.Len(t, received(c), cap(c.send), "overflow is dropped, not blocked on")
}

func TestAllowListCachedWithinTTL(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111"}}}
	h := New(plates, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	c := attach(h, StreamGPS, 7, "")
	msg := []byte(`{"licensePlateNumber":"AAA-111"}`)

	h.Broadcast(context.Background(), StreamGPS, msg)
	now = now.Add(299 * time.Second)
	h.Broadcast(context.Background(), StreamGPS, msg)
	assert.Equal(t, 1, plates.calls, "allow-list reused inside TTL")

	now = now.Add(2 * time.Second)
	h.Broadcast(context.Background(), StreamGPS, msg)
	assert.Equal(t, 2, plates.calls, "allow-list refreshed past TTL")

	assert.Len(t, received(c), 3)
}

func TestAllowListLookupFailureServesStale(t *testing.T) {
	plates := &fakePlates{plates: map[int][]string{7: {"AAA-111"}}}
	h := New(plates, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	c := attach(h, StreamGPS, 7, "")
	msg := []byte(`{"licensePlateNumber":"AAA-111"}`)

	h.Broadcast(context.Background(), StreamGPS, msg)
	require.Len(t, received(c), 1)

	plates.err = errors.New("mysql down")
	now = now.Add(AllowListTTL + time.Second)
	h.Broadcast(context.Background(), StreamGPS, msg)
	assert.Len(t, received(c), 1, "stale allow-list keeps serving through failures")
}

func TestRemoveClosesSendOnce(t *testing.T) {
	h := New(&fakePlates{}, nil)
	c := attach(h, StreamGPS, -1, "")

	h.remove(c)
	assert.Equal(t, 0, h.SubscriberCount(StreamGPS))
	h.remove(c) // second removal must not panic on a closed channel

	_, open := <-c.send
	assert.False(t, open)
}
