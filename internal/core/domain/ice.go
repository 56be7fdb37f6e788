package domain

// IceServer is a STUN or TURN server handed to the engine.
type IceServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username"`
	Credential string   `json:"credential,omitempty" yaml:"credential"`
}

// IceCandidate is an opaque candidate blob produced and consumed by the engine.
type IceCandidate []byte

// TurnServerInfo is what the TURN credential endpoint returns.
type TurnServerInfo struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URLs     []string `json:"urls"`
}

func (t TurnServerInfo) IceServer() IceServer {
	return IceServer{URLs: t.URLs, Username: t.Username, Credential: t.Password}
}
