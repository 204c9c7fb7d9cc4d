package simulator

import "github.com/rs/xid"

func newEventID() string {
	return xid.New().String()
}
