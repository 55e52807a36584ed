package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	// RandomUserPrompt is sent to the sampler by CreateRandomUser.
	RandomUserPrompt = "Generate fake user data. The user should have a realistic email, address, and phone number. " +
		"Return this data as a JSON object with no other text or formatter so it can be used with JSON.parse\n" +
		`Example: {"id": 3,"name": "Charlie Brown","email": "charlie@test.com","address": "123 Main St, Omaha, NE","phone": "555-8765"}`

	// RandomUserMaxTokens bounds the sampled answer.
	RandomUserMaxTokens = 1024
)

// FakeUserPrompt renders the text of the generate-fake-user prompt.
func FakeUserPrompt(name string) string {
	return fmt.Sprintf("Generate a fake user with the name %s. The user should have a realistic email, address, and phone number.", name)
}

// userServiceImpl implements the UserService interface
type userServiceImpl struct {
	store UserStore
}

// Read operations report storage failures differently from writes.
const (
	opListUsers = "list users"
	opGetUser   = "get user"
)

// NewUserService creates a new user service backed by st
func NewUserService(st UserStore) UserService {
	return &userServiceImpl{store: st}
}

// CreateUser validates u and appends it to the store
func (s *userServiceImpl) CreateUser(ctx context.Context, u NewUser) (User, error) {
	if err := u.Validate(); err != nil {
		return User{}, newError("create user", KindInvalidInput, err)
	}
	user, err := s.store.Append(ctx, u)
	if err != nil {
		return User{}, newError("create user", KindStorage, errors.Wrap(err, "append user"))
	}
	return user, nil
}

// CreateRandomUser asks sampler for fake user data, parses it and stores it
func (s *userServiceImpl) CreateRandomUser(ctx context.Context, sampler Sampler) (User, error) {
	const op = "create random user"
	if sampler == nil {
		return User{}, newError(op, KindUpstream, ErrNoSampler)
	}

	text, err := sampler.Sample(ctx, SampleRequest{
		Prompt:    RandomUserPrompt,
		MaxTokens: RandomUserMaxTokens,
	})
	if err != nil {
		return User{}, newError(op, KindUpstream, err)
	}

	u, err := ParseSampledUser(text)
	if err != nil {
		return User{}, newError(op, KindMalformedUpstream, err)
	}

	user, err := s.store.Append(ctx, u)
	if err != nil {
		return User{}, newError(op, KindStorage, errors.Wrap(err, "append user"))
	}
	return user, nil
}

// ListUsers returns every stored user
func (s *userServiceImpl) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, newError(opListUsers, KindStorage, err)
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// GetUser returns the user with the given id
func (s *userServiceImpl) GetUser(ctx context.Context, id int) (User, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return User{}, newError(opGetUser, KindStorage, err)
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, newError(opGetUser, KindNotFound, errors.Wrapf(ErrUserNotFound, "id %d", id))
}

// ParseSampledUser decodes model output into a NewUser. A surrounding
// ```json fence is tolerated; any id the model invents is ignored.
func ParseSampledUser(text string) (NewUser, error) {
	if strings.TrimSpace(text) == "" {
		return NewUser{}, ErrEmptySample
	}
	body := stripFence(text)

	var u NewUser
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&u); err != nil {
		return NewUser{}, errors.Wrap(ErrMalformedUser, err.Error())
	}
	if err := u.Validate(); err != nil {
		return NewUser{}, errors.Wrap(ErrMalformedUser, err.Error())
	}
	return u, nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
