// Package client talks to a walktracker server over connect. A Client
// satisfies live.Source and live.Gateway, so a live channel can run against a
// remote server exactly as it does against an in-process gateway.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/walktracker/internal/api"
	"github.com/mmynk/walktracker/internal/api/apiconnect"
	"github.com/mmynk/walktracker/internal/entry"
	"github.com/mmynk/walktracker/internal/middleware"
	"github.com/mmynk/walktracker/internal/models"
	"github.com/mmynk/walktracker/internal/stats"
)

// watchBuffer is the capacity of the channel returned by Watch.
const watchBuffer = 64

type options struct {
	httpClient connect.HTTPClient
	token      string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithToken authenticates every call with a bearer token.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Client is a remote gateway and change source.
type Client struct {
	entries apiconnect.EntryServiceClient
	stats   apiconnect.StatsServiceClient
	logger  *slog.Logger
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	o := options{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var clientOpts []connect.ClientOption
	if o.token != "" {
		clientOpts = append(clientOpts, connect.WithInterceptors(middleware.BearerToken(o.token)))
	}

	return &Client{
		entries: apiconnect.NewEntryServiceClient(o.httpClient, baseURL, clientOpts...),
		stats:   apiconnect.NewStatsServiceClient(o.httpClient, baseURL, clientOpts...),
		logger:  o.logger.With("component", "client", "server", baseURL),
	}
}

func entryOf(res *connect.Response[api.EntryResponse], err error) (models.Entry, error) {
	if err != nil {
		return models.Entry{}, api.FromConnectError(err)
	}
	return res.Msg.Entry, nil
}

// Start begins a live walk.
func (c *Client) Start(ctx context.Context) (models.Entry, error) {
	return entryOf(c.entries.Start(ctx, connect.NewRequest(&api.StartRequest{})))
}

// AppendUser adds u to the walk.
func (c *Client) AppendUser(ctx context.Context, entryID string, u models.User) (models.Entry, error) {
	return entryOf(c.entries.AppendUser(ctx, connect.NewRequest(&api.AppendUserRequest{
		EntryID: entryID,
		User:    &u,
	})))
}

// Join adds the authenticated caller to the walk.
func (c *Client) Join(ctx context.Context, entryID string) (models.Entry, error) {
	return entryOf(c.entries.AppendUser(ctx, connect.NewRequest(&api.AppendUserRequest{EntryID: entryID})))
}

// Finish completes the walk.
func (c *Client) Finish(ctx context.Context, entryID string, revision int64, in entry.FinishInput) (models.Entry, error) {
	return entryOf(c.entries.Finish(ctx, connect.NewRequest(&api.FinishRequest{
		EntryID:  entryID,
		Revision: revision,
		Input:    in,
	})))
}

// AddManual records a walk after the fact.
func (c *Client) AddManual(ctx context.Context, in entry.ManualInput) (models.Entry, error) {
	return entryOf(c.entries.AddManual(ctx, connect.NewRequest(&api.AddManualRequest{Input: in})))
}

// EditCompleted patches a completed walk.
func (c *Client) EditCompleted(ctx context.Context, entryID string, revision int64, p models.EntryPatch) (models.Entry, error) {
	return entryOf(c.entries.EditCompleted(ctx, connect.NewRequest(&api.EditCompletedRequest{
		EntryID:  entryID,
		Revision: revision,
		Patch:    p,
	})))
}

// Update patches any walk.
func (c *Client) Update(ctx context.Context, entryID string, revision int64, p models.EntryPatch) (models.Entry, error) {
	return entryOf(c.entries.Update(ctx, connect.NewRequest(&api.UpdateRequest{
		EntryID:  entryID,
		Revision: revision,
		Patch:    p,
	})))
}

// Delete removes a walk. It returns nil when the server did not have it.
func (c *Client) Delete(ctx context.Context, entryID string) (*models.Entry, error) {
	res, err := c.entries.Delete(ctx, connect.NewRequest(&api.DeleteRequest{EntryID: entryID}))
	if err != nil {
		return nil, api.FromConnectError(err)
	}
	if !res.Msg.Deleted {
		return nil, nil
	}
	return res.Msg.Entry, nil
}

// Fetch returns the server state for a resync.
func (c *Client) Fetch(ctx context.Context) (models.State, error) {
	res, err := c.entries.Snapshot(ctx, connect.NewRequest(&api.SnapshotRequest{}))
	if err != nil {
		return models.State{}, api.FromConnectError(err)
	}
	return res.Msg.State, nil
}

// Users lists known walkers.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	res, err := c.entries.Users(ctx, connect.NewRequest(&api.UsersRequest{}))
	if err != nil {
		return nil, api.FromConnectError(err)
	}
	return res.Msg.Users, nil
}

// Stats fetches the stats report. Zero days and an empty time zone use the
// server defaults.
func (c *Client) Stats(ctx context.Context, days int, timeZone string) (stats.Report, error) {
	res, err := c.stats.GetStats(ctx, connect.NewRequest(&api.GetStatsRequest{Days: days, TimeZone: timeZone}))
	if err != nil {
		return stats.Report{}, api.FromConnectError(err)
	}
	return res.Msg.Report, nil
}

// Watch opens the change stream. It returns once the server has confirmed
// the watch, so a Fetch issued afterwards misses nothing. The channel is
// closed when ctx is done or the stream fails.
func (c *Client) Watch(ctx context.Context) (<-chan models.Change, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.entries.Watch(ctx, connect.NewRequest(&api.WatchRequest{}))
	if err != nil {
		cancel()
		return nil, api.FromConnectError(err)
	}

	if !stream.Receive() {
		err := stream.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		stream.Close()
		cancel()
		return nil, api.FromConnectError(fmt.Errorf("watch handshake: %w", err))
	}
	c.logger.Debug("Watch established", "seq", stream.Msg().Seq)

	out := make(chan models.Change, watchBuffer)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		start := time.Now()
		for stream.Receive() {
			msg := stream.Msg()
			if msg.Change == nil {
				continue
			}
			select {
			case out <- *msg.Change:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("Watch stream ended",
				"error", api.FromConnectError(err),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()
	return out, nil
}
