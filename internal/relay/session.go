package relay

import "time"

// RoleKind is what a connection has declared itself to be.
type RoleKind int

const (
	// RoleUnregistered connections have not sent a registration event. They
	// may still issue requests but receive no broadcasts.
	RoleUnregistered RoleKind = iota
	// RoleDevice connections represent one or more chip ids.
	RoleDevice
	// RoleClient connections hold a subscription.
	RoleClient
)

// String returns the lower-case role name.
func (k RoleKind) String() string {
	switch k {
	case RoleDevice:
		return "device"
	case RoleClient:
		return "client"
	default:
		return "unregistered"
	}
}

// Session is the per-connection state kept by the Handler. The role follows
// the most recent registration event on the connection.
type Session struct {
	ConnectionID string
	ConnectedAt  time.Time
	Role         RoleKind
	// ChipIDs holds the chip ids registered over this connection for a
	// device, or the subscription list for a client.
	ChipIDs []string
}

func (s *Session) becomeDevice(id string) {
	if s.Role != RoleDevice {
		s.Role = RoleDevice
		s.ChipIDs = nil
	}
	for _, existing := range s.ChipIDs {
		if existing == id {
			return
		}
	}
	s.ChipIDs = append(s.ChipIDs, id)
}

func (s *Session) becomeClient(ids []string) {
	s.Role = RoleClient
	s.ChipIDs = append([]string(nil), ids...)
}

func (s *Session) clone() Session {
	c := *s
	c.ChipIDs = append([]string(nil), s.ChipIDs...)
	return c
}
