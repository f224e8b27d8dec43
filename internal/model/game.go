package model

// Game is a host-owned match advertisement. Port is the externally
// advertised port; InternalIP/InternalPort are self-reported by the host.
// OtherAsJSON carries unrecognised update keys verbatim so game lists can
// round-trip them.
type Game struct {
	ID                int64
	LobbyID           int32
	ReserveHost       bool
	Name              string
	PersonaID         int64
	Port              int32
	HostType          string
	GameType          string
	QueueLength       int32
	DisableAutoDequeue bool
	HXFR              string
	InternalPort      int32
	InternalIP        string
	MaxPlayers        int32
	MaxObservers      int32
	UserGroupID       string
	Secret            string
	UserFriendsOnly   bool
	UserPCDedicated   bool
	UserDLC           string
	UserPlaymode      string
	UserRanked        bool
	UserLevelKey      string
	UserLevelName     string
	UserMode          string
	ClientVersion     string
	ServerVersion     string
	JoinMode          string
	RT                string
	EncryptionKey     string
	OtherAsJSON       string
}
