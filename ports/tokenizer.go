package ports

import "github.com/layer-3/gatekeeper/core"

// Tokenizer converts between sessions and the tokens handed to clients
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)

	// TokenToSession returns the session id and validity window carried by
	// token. It does not consult any store.
	TokenToSession(token string) (*core.Session, error)
}
