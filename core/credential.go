package core

// Credential is a verified proof of identity. It is one of WalletProof,
// OAuthIdentity or PasswordIdentity.
type Credential interface {
	Method() AuthMethod
	credential()
}

// WalletProof is a wallet address whose signature has been verified
type WalletProof struct {
	Address string
}

// OAuthIdentity is a profile obtained from a completed provider exchange
type OAuthIdentity struct {
	ProviderIdentity
}

// PasswordIdentity is an email whose password has been verified, or, on
// sign-up, the email and the hash to store.
type PasswordIdentity struct {
	Email        string
	PasswordHash string
	DisplayName  string
}

func (WalletProof) Method() AuthMethod      { return AuthMethodWallet }
func (OAuthIdentity) Method() AuthMethod    { return AuthMethodOAuth }
func (PasswordIdentity) Method() AuthMethod { return AuthMethodPassword }

func (WalletProof) credential()      {}
func (OAuthIdentity) credential()    {}
func (PasswordIdentity) credential() {}
