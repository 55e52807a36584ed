package service

import (
	"context"
)

// UserService defines the user directory operations
type UserService interface {
	CreateUser(ctx context.Context, u NewUser) (User, error)
	CreateRandomUser(ctx context.Context, sampler Sampler) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int) (User, error)
}

// UserStore persists user records. Implementations must be safe for
// concurrent use and assign ids inside their own critical section.
type UserStore interface {
	List(ctx context.Context) ([]User, error)
	Append(ctx context.Context, u NewUser) (User, error)
}

// Sampler asks a language model for a completion and returns its text.
// It returns ErrNonTextSample when the model answered with something else.
type Sampler interface {
	Sample(ctx context.Context, req SampleRequest) (string, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context, req SampleRequest) (string, error)

func (f SamplerFunc) Sample(ctx context.Context, req SampleRequest) (string, error) {
	return f(ctx, req)
}
