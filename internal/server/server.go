package server

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"statestore/internal/storage"
	"statestore/internal/storage/journal"
	"statestore/internal/version"
)

// Server implements StorageServer on top of a storage.Storage.
type Server struct {
	store  storage.Storage
	nodeID string
	logger hclog.Logger
}

var _ StorageServer = (*Server)(nil)

// NewServer creates a new gRPC server instance.
func NewServer(store storage.Storage, nodeID string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		store:  store,
		nodeID: nodeID,
		logger: logger,
	}
}

// Get handles Get requests.
func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	s.logger.Trace("get request", "name", req.Name)

	if err := storage.ValidateName(req.Name); err != nil {
		return &GetResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}

	entry, err := s.store.Get(ctx, req.Name)
	if err != nil {
		return nil, s.backendError("get", req.Name, err)
	}
	if entry == nil {
		return &GetResponse{Status: StatusNotFound}, nil
	}
	return &GetResponse{Status: StatusSuccess, Entry: entry}, nil
}

// Put handles Put requests.
func (s *Server) Put(ctx context.Context, req *PutRequest) (*PutResponse, error) {
	s.logger.Trace("put request", "name", req.Name, "bytes", len(req.Value))

	if err := storage.ValidateName(req.Name); err != nil {
		return &PutResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}
	expected, err := version.FromBytes(req.Expected)
	if err != nil {
		return &PutResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}

	next, ok, err := s.store.Put(ctx, req.Name, expected, req.Value)
	if err != nil {
		return nil, s.backendError("put", req.Name, err)
	}
	if !ok {
		return &PutResponse{Status: StatusConflict}, nil
	}
	return &PutResponse{Status: StatusSuccess, Version: next.Bytes()}, nil
}

// Delete handles Delete requests.
func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	s.logger.Trace("delete request", "name", req.Name)

	if err := storage.ValidateName(req.Name); err != nil {
		return &DeleteResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}
	expected, err := version.FromBytes(req.Expected)
	if err != nil {
		return &DeleteResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}

	ok, err := s.store.Delete(ctx, req.Name, expected)
	if err != nil {
		return nil, s.backendError("delete", req.Name, err)
	}
	if !ok {
		return &DeleteResponse{Status: StatusConflict}, nil
	}
	return &DeleteResponse{Status: StatusSuccess}, nil
}

// Names handles Names requests.
func (s *Server) Names(ctx context.Context, _ *NamesRequest) (*NamesResponse, error) {
	s.logger.Trace("names request")

	names, err := s.store.Names(ctx)
	if err != nil {
		return nil, s.backendError("names", "", err)
	}
	return &NamesResponse{Status: StatusSuccess, Names: names}, nil
}

// Historian is implemented by storages that keep previous values, such as
// journal.Journal.
type Historian interface {
	History(name string) ([]journal.Revision, error)
}

// History handles History requests. Nodes whose storage keeps no history
// answer with StatusError.
func (s *Server) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	s.logger.Trace("history request", "name", req.Name)

	if err := storage.ValidateName(req.Name); err != nil {
		return &HistoryResponse{Status: StatusError, ErrorMessage: err.Error()}, nil
	}
	h, ok := s.store.(Historian)
	if !ok {
		return &HistoryResponse{Status: StatusError, ErrorMessage: "history is not enabled on this node"}, nil
	}

	revs, err := h.History(req.Name)
	if err != nil {
		return nil, s.backendError("history", req.Name, err)
	}
	return &HistoryResponse{Status: StatusSuccess, Revisions: revs}, nil
}

// backendError turns a storage failure into a gRPC status. Cancellation is
// reported as such; everything else is Internal.
func (s *Server) backendError(op, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	s.logger.Error("storage failure", "op", op, "name", name, "error", err)
	return status.Error(codes.Internal, err.Error())
}
