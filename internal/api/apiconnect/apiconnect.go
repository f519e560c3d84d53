// Package apiconnect wires the api messages to connect handlers and clients.
package apiconnect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/walktracker/internal/api"
)

const (
	EntryServiceName = "walktracker.v1.EntryService"
	StatsServiceName = "walktracker.v1.StatsService"
)

// Fully-qualified procedure names.
const (
	EntryServiceStartProcedure         = "/walktracker.v1.EntryService/Start"
	EntryServiceAppendUserProcedure    = "/walktracker.v1.EntryService/AppendUser"
	EntryServiceFinishProcedure        = "/walktracker.v1.EntryService/Finish"
	EntryServiceAddManualProcedure     = "/walktracker.v1.EntryService/AddManual"
	EntryServiceEditCompletedProcedure = "/walktracker.v1.EntryService/EditCompleted"
	EntryServiceUpdateProcedure        = "/walktracker.v1.EntryService/Update"
	EntryServiceDeleteProcedure        = "/walktracker.v1.EntryService/Delete"
	EntryServiceSnapshotProcedure      = "/walktracker.v1.EntryService/Snapshot"
	EntryServiceUsersProcedure         = "/walktracker.v1.EntryService/Users"
	EntryServiceWatchProcedure         = "/walktracker.v1.EntryService/Watch"

	StatsServiceGetStatsProcedure = "/walktracker.v1.StatsService/GetStats"
)

// EntryServiceHandler is implemented by the server side of the entry service.
type EntryServiceHandler interface {
	Start(context.Context, *connect.Request[api.StartRequest]) (*connect.Response[api.EntryResponse], error)
	AppendUser(context.Context, *connect.Request[api.AppendUserRequest]) (*connect.Response[api.EntryResponse], error)
	Finish(context.Context, *connect.Request[api.FinishRequest]) (*connect.Response[api.EntryResponse], error)
	AddManual(context.Context, *connect.Request[api.AddManualRequest]) (*connect.Response[api.EntryResponse], error)
	EditCompleted(context.Context, *connect.Request[api.EditCompletedRequest]) (*connect.Response[api.EntryResponse], error)
	Update(context.Context, *connect.Request[api.UpdateRequest]) (*connect.Response[api.EntryResponse], error)
	Delete(context.Context, *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error)
	Snapshot(context.Context, *connect.Request[api.SnapshotRequest]) (*connect.Response[api.SnapshotResponse], error)
	Users(context.Context, *connect.Request[api.UsersRequest]) (*connect.Response[api.UsersResponse], error)
	Watch(context.Context, *connect.Request[api.WatchRequest], *connect.ServerStream[api.WatchResponse]) error
}

// StatsServiceHandler is implemented by the server side of the stats service.
type StatsServiceHandler interface {
	GetStats(context.Context, *connect.Request[api.GetStatsRequest]) (*connect.Response[api.GetStatsResponse], error)
}

// NewEntryServiceHandler builds an HTTP handler for the entry service and
// returns the path to mount it on.
func NewEntryServiceHandler(svc EntryServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)

	routes := map[string]http.Handler{
		EntryServiceStartProcedure:         connect.NewUnaryHandler(EntryServiceStartProcedure, svc.Start, opts...),
		EntryServiceAppendUserProcedure:    connect.NewUnaryHandler(EntryServiceAppendUserProcedure, svc.AppendUser, opts...),
		EntryServiceFinishProcedure:        connect.NewUnaryHandler(EntryServiceFinishProcedure, svc.Finish, opts...),
		EntryServiceAddManualProcedure:     connect.NewUnaryHandler(EntryServiceAddManualProcedure, svc.AddManual, opts...),
		EntryServiceEditCompletedProcedure: connect.NewUnaryHandler(EntryServiceEditCompletedProcedure, svc.EditCompleted, opts...),
		EntryServiceUpdateProcedure:        connect.NewUnaryHandler(EntryServiceUpdateProcedure, svc.Update, opts...),
		EntryServiceDeleteProcedure:        connect.NewUnaryHandler(EntryServiceDeleteProcedure, svc.Delete, opts...),
		EntryServiceSnapshotProcedure:      connect.NewUnaryHandler(EntryServiceSnapshotProcedure, svc.Snapshot, opts...),
		EntryServiceUsersProcedure:         connect.NewUnaryHandler(EntryServiceUsersProcedure, svc.Users, opts...),
		EntryServiceWatchProcedure:         connect.NewServerStreamHandler(EntryServiceWatchProcedure, svc.Watch, opts...),
	}
	return "/" + EntryServiceName + "/", route(routes)
}

// NewStatsServiceHandler builds an HTTP handler for the stats service and
// returns the path to mount it on.
func NewStatsServiceHandler(svc StatsServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)

	routes := map[string]http.Handler{
		StatsServiceGetStatsProcedure: connect.NewUnaryHandler(StatsServiceGetStatsProcedure, svc.GetStats, opts...),
	}
	return "/" + StatsServiceName + "/", route(routes)
}

func route(routes map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func withCodec(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
}

// EntryServiceClient is a client for the entry service.
type EntryServiceClient interface {
	Start(context.Context, *connect.Request[api.StartRequest]) (*connect.Response[api.EntryResponse], error)
	AppendUser(context.Context, *connect.Request[api.AppendUserRequest]) (*connect.Response[api.EntryResponse], error)
	Finish(context.Context, *connect.Request[api.FinishRequest]) (*connect.Response[api.EntryResponse], error)
	AddManual(context.Context, *connect.Request[api.AddManualRequest]) (*connect.Response[api.EntryResponse], error)
	EditCompleted(context.Context, *connect.Request[api.EditCompletedRequest]) (*connect.Response[api.EntryResponse], error)
	Update(context.Context, *connect.Request[api.UpdateRequest]) (*connect.Response[api.EntryResponse], error)
	Delete(context.Context, *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error)
	Snapshot(context.Context, *connect.Request[api.SnapshotRequest]) (*connect.Response[api.SnapshotResponse], error)
	Users(context.Context, *connect.Request[api.UsersRequest]) (*connect.Response[api.UsersResponse], error)
	Watch(context.Context, *connect.Request[api.WatchRequest]) (*connect.ServerStreamForClient[api.WatchResponse], error)
}

// NewEntryServiceClient constructs a client for the entry service at baseURL
// (for example, http://localhost:8080).
func NewEntryServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) EntryServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)

	return &entryServiceClient{
		start:         connect.NewClient[api.StartRequest, api.EntryResponse](httpClient, baseURL+EntryServiceStartProcedure, opts...),
		appendUser:    connect.NewClient[api.AppendUserRequest, api.EntryResponse](httpClient, baseURL+EntryServiceAppendUserProcedure, opts...),
		finish:        connect.NewClient[api.FinishRequest, api.EntryResponse](httpClient, baseURL+EntryServiceFinishProcedure, opts...),
		addManual:     connect.NewClient[api.AddManualRequest, api.EntryResponse](httpClient, baseURL+EntryServiceAddManualProcedure, opts...),
		editCompleted: connect.NewClient[api.EditCompletedRequest, api.EntryResponse](httpClient, baseURL+EntryServiceEditCompletedProcedure, opts...),
		update:        connect.NewClient[api.UpdateRequest, api.EntryResponse](httpClient, baseURL+EntryServiceUpdateProcedure, opts...),
		delete:        connect.NewClient[api.DeleteRequest, api.DeleteResponse](httpClient, baseURL+EntryServiceDeleteProcedure, opts...),
		snapshot:      connect.NewClient[api.SnapshotRequest, api.SnapshotResponse](httpClient, baseURL+EntryServiceSnapshotProcedure, opts...),
		users:         connect.NewClient[api.UsersRequest, api.UsersResponse](httpClient, baseURL+EntryServiceUsersProcedure, opts...),
		watch:         connect.NewClient[api.WatchRequest, api.WatchResponse](httpClient, baseURL+EntryServiceWatchProcedure, opts...),
	}
}

type entryServiceClient struct {
	start         *connect.Client[api.StartRequest, api.EntryResponse]
	appendUser    *connect.Client[api.AppendUserRequest, api.EntryResponse]
	finish        *connect.Client[api.FinishRequest, api.EntryResponse]
	addManual     *connect.Client[api.AddManualRequest, api.EntryResponse]
	editCompleted *connect.Client[api.EditCompletedRequest, api.EntryResponse]
	update        *connect.Client[api.UpdateRequest, api.EntryResponse]
	delete        *connect.Client[api.DeleteRequest, api.DeleteResponse]
	snapshot      *connect.Client[api.SnapshotRequest, api.SnapshotResponse]
	users         *connect.Client[api.UsersRequest, api.UsersResponse]
	watch         *connect.Client[api.WatchRequest, api.WatchResponse]
}

func (c *entryServiceClient) Start(ctx context.Context, req *connect.Request[api.StartRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.start.CallUnary(ctx, req)
}

func (c *entryServiceClient) AppendUser(ctx context.Context, req *connect.Request[api.AppendUserRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.appendUser.CallUnary(ctx, req)
}

func (c *entryServiceClient) Finish(ctx context.Context, req *connect.Request[api.FinishRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.finish.CallUnary(ctx, req)
}

func (c *entryServiceClient) AddManual(ctx context.Context, req *connect.Request[api.AddManualRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.addManual.CallUnary(ctx, req)
}

func (c *entryServiceClient) EditCompleted(ctx context.Context, req *connect.Request[api.EditCompletedRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.editCompleted.CallUnary(ctx, req)
}

func (c *entryServiceClient) Update(ctx context.Context, req *connect.Request[api.UpdateRequest]) (*connect.Response[api.EntryResponse], error) {
	return c.update.CallUnary(ctx, req)
}

func (c *entryServiceClient) Delete(ctx context.Context, req *connect.Request[api.DeleteRequest]) (*connect.Response[api.DeleteResponse], error) {
	return c.delete.CallUnary(ctx, req)
}

func (c *entryServiceClient) Snapshot(ctx context.Context, req *connect.Request[api.SnapshotRequest]) (*connect.Response[api.SnapshotResponse], error) {
	return c.snapshot.CallUnary(ctx, req)
}

func (c *entryServiceClient) Users(ctx context.Context, req *connect.Request[api.UsersRequest]) (*connect.Response[api.UsersResponse], error) {
	return c.users.CallUnary(ctx, req)
}

func (c *entryServiceClient) Watch(ctx context.Context, req *connect.Request[api.WatchRequest]) (*connect.ServerStreamForClient[api.WatchResponse], error) {
	return c.watch.CallServerStream(ctx, req)
}

// StatsServiceClient is a client for the stats service.
type StatsServiceClient interface {
	GetStats(context.Context, *connect.Request[api.GetStatsRequest]) (*connect.Response[api.GetStatsResponse], error)
}

// NewStatsServiceClient constructs a client for the stats service at baseURL.
func NewStatsServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) StatsServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)

	return &statsServiceClient{
		getStats: connect.NewClient[api.GetStatsRequest, api.GetStatsResponse](httpClient, baseURL+StatsServiceGetStatsProcedure, opts...),
	}
}

type statsServiceClient struct {
	getStats *connect.Client[api.GetStatsRequest, api.GetStatsResponse]
}

func (c *statsServiceClient) GetStats(ctx context.Context, req *connect.Request[api.GetStatsRequest]) (*connect.Response[api.GetStatsResponse], error) {
	return c.getStats.CallUnary(ctx, req)
}
