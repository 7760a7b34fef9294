package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Category groups errors by how they should be handled.
type Category string

const (
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
	CategoryUnreachable Category = "unreachable"
	CategoryServer      Category = "server"
	CategoryRateLimited Category = "rate_limited"
	CategoryValidation  Category = "validation"
	CategoryPermanent   Category = "permanent"
	CategoryCancelled   Category = "cancelled"
	CategoryUnknown     Category = "unknown"
)

// transientCategories are retried by the default heuristic.
var transientCategories = map[Category]bool{
	CategoryNetwork:     true,
	CategoryTimeout:     true,
	CategoryUnreachable: true,
}

// ParseCategory returns the category named s, or CategoryUnknown.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryNetwork, CategoryTimeout, CategoryUnreachable, CategoryServer,
		CategoryRateLimited, CategoryValidation, CategoryPermanent, CategoryCancelled:
		return c
	default:
		return CategoryUnknown
	}
}

// Categorized is implemented by errors that know their own category.
type Categorized interface {
	Category() Category
}

// retryable is implemented by errors that carry an explicit retry verdict.
type retryable interface {
	IsRetryable() bool
}

// Classify determines the category of err.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return CategoryUnreachable
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CategoryNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CategoryTimeout
		}
		return CategoryUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable:
			return CategoryUnreachable
		case codes.DeadlineExceeded:
			return CategoryTimeout
		case codes.ResourceExhausted:
			return CategoryRateLimited
		case codes.Canceled:
			return CategoryCancelled
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.AlreadyExists,
			codes.NotFound:
			return CategoryValidation
		case codes.PermissionDenied, codes.Unauthenticated, codes.Unimplemented:
			return CategoryPermanent
		case codes.Internal, codes.Aborted, codes.DataLoss:
			return CategoryServer
		}
	}

	var r retryable
	if errors.As(err, &r) {
		if r.IsRetryable() {
			return CategoryNetwork
		}
		return CategoryPermanent
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the last-resort string heuristic.
func classifyMessage(s string) Category {
	lower := strings.ToLower(s)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(lower, "unreachable") || strings.Contains(lower, "no route to host") ||
		strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return CategoryUnreachable
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "eof") ||
		strings.Contains(lower, "offline"):
		return CategoryNetwork
	case strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "rate limit"):
		return CategoryRateLimited
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "validation"):
		return CategoryValidation
	}

	return CategoryUnknown
}

// IsTransient reports whether the default heuristic would retry err.
func IsTransient(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return transientCategories[Classify(err)]
}
