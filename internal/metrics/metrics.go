package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	ReportsReceived    atomic.Int64
	ReportsRejected    atomic.Int64
	GhostsDetected     atomic.Int64
	BroadcastsSent     atomic.Int64
	SubscriberDrops    atomic.Int64
	DeliveryFailures   atomic.Int64
	MirrorChannelDrops atomic.Int64
	AlertChannelDrops  atomic.Int64
	MirrorWriteErrors  atomic.Int64
	DBWriteSuccess     atomic.Int64
	DBWriteFailures    atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ghostbus_reports_received_total %d\n", ReportsReceived.Load())
	fmt.Fprintf(w, "ghostbus_reports_rejected_total %d\n", ReportsRejected.Load())
	fmt.Fprintf(w, "ghostbus_ghosts_detected_total %d\n", GhostsDetected.Load())
	fmt.Fprintf(w, "ghostbus_broadcasts_sent_total %d\n", BroadcastsSent.Load())
	fmt.Fprintf(w, "ghostbus_subscriber_drops_total %d\n", SubscriberDrops.Load())
	fmt.Fprintf(w, "ghostbus_delivery_failures_total %d\n", DeliveryFailures.Load())
	fmt.Fprintf(w, "ghostbus_mirror_channel_drops_total %d\n", MirrorChannelDrops.Load())
	fmt.Fprintf(w, "ghostbus_alert_channel_drops_total %d\n", AlertChannelDrops.Load())
	fmt.Fprintf(w, "ghostbus_mirror_write_errors_total %d\n", MirrorWriteErrors.Load())
	fmt.Fprintf(w, "ghostbus_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "ghostbus_db_write_failures_total %d\n", DBWriteFailures.Load())
}
