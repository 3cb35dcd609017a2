package wallet

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation     string
	AccountID     string
	Amount        int64
	ReferenceKind ReferenceKind
	ReferenceID   string
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithOrderFeed wires the change feed that receives order events after commit.
func WithOrderFeed(feed OrderFeed) ServiceOption {
	return func(service *Service) {
		service.feed = feed
	}
}
