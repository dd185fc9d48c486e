package utils

import "github.com/denisbrodbeck/machineid"

// HWID is a stable, app-scoped device identifier sent with every API call.
var HWID = func() string {
	id, err := machineid.ProtectedID("syftbus")
	if err != nil {
		return "unknown"
	}
	return id
}()
