package websocket

import "wove/internal/models"

// trigger is an input to the connection state machine
type trigger string

const (
	triggerConnect trigger = "connect"
	triggerOpen    trigger = "open"
	triggerFail    trigger = "fail"
	triggerClose   trigger = "close"
)

// transitions is the full set of legal moves; anything absent is illegal.
var transitions = map[models.ConnectionStatus]map[trigger]models.ConnectionStatus{
	models.StatusDisconnected: {
		triggerConnect: models.StatusConnecting,
	},
	models.StatusConnecting: {
		triggerOpen:  models.StatusConnected,
		triggerFail:  models.StatusDisconnected,
		triggerClose: models.StatusDisconnected,
	},
	models.StatusConnected: {
		triggerClose: models.StatusDisconnected,
	},
}

func nextState(from models.ConnectionStatus, t trigger) (models.ConnectionStatus, bool) {
	to, ok := transitions[from][t]
	return to, ok
}
