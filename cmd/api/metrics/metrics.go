package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicketsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_created_total",
		Help: "Tickets created through the API.",
	})
	TicketsUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_updated_total",
		Help: "Ticket mutations (status, archive, partial updates).",
	})
	TicketMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_messages_total",
		Help: "Messages appended to ticket threads.",
	})
	ProxiedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upstream_proxied_requests_total",
		Help: "Ticket requests relayed to the upstream API.",
	})
)

// Handler exposes the default prometheus registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}
