package daemon

import (
	"os"
	"time"

	"github.com/netshield/netshieldd/internal/control"
)

var _ control.Backend = (*Daemon)(nil)

// Health implements the [control.Backend] interface for *Daemon.
func (d *Daemon) Health() (h control.HealthResponse) {
	return control.HealthResponse{
		Status: "ok",
		Uptime: d.uptime().String(),
		Pid:    os.Getpid(),
		BootID: d.bootID.String(),
	}
}

// Status implements the [control.Backend] interface for *Daemon.
func (d *Daemon) Status() (s control.StatusResponse) {
	snap := d.st.Snapshot()

	return control.StatusResponse{
		IsRunning:      true,
		IsBlocking:     d.isBlocking.Load(),
		DomainsInList:  d.bl.Len(),
		QueriesSeen:    snap.QueriesSeen,
		QueriesBlocked: snap.QueriesBlocked,
		QueriesAllowed: snap.QueriesAllowed,
		BlockingMethod: "system-dns",
		Uptime:         d.uptime().String(),
	}
}

// Stats implements the [control.Backend] interface for *Daemon.
func (d *Daemon) Stats() (s control.StatsResponse) {
	snap := d.st.Snapshot()

	return control.StatsResponse{
		QueriesSeen:    snap.QueriesSeen,
		QueriesBlocked: snap.QueriesBlocked,
		QueriesAllowed: snap.QueriesAllowed,
		ForwardErrors:  snap.ForwardErrors,
		Uptime:         snap.Uptime.String(),
	}
}

// uptime returns the duration since the daemon's Start was called.
func (d *Daemon) uptime() (dur time.Duration) {
	if d.startedAt.IsZero() {
		return 0
	}

	return time.Since(d.startedAt)
}
