package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"adhiba.xyz/iot-climate-service/pkg/models"
)

// SubscriptionRequest mirrors the browser's PushSubscription.toJSON() shape.
type SubscriptionRequest struct {
	Endpoint string `json:"endpoint" zog:"endpoint"`
	Keys     struct {
		P256DH string `json:"p256dh" zog:"p256dh"`
		Auth   string `json:"auth" zog:"auth"`
	} `json:"keys" zog:"keys"`
}

var subscriptionRequestSchema = z.Struct(z.Shape{
	"Endpoint": z.String().Trim().URL().Required(),
	"Keys": z.Struct(z.Shape{
		"P256DH": z.String().Required(),
		"Auth":   z.String().Required(),
	}),
})

type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" zog:"endpoint"`
}

var unsubscribeRequestSchema = z.Struct(z.Shape{
	"Endpoint": z.String().Trim().Required(),
})

func (rs *RestfulServer) PutSubscription(c *gin.Context) {
	var req SubscriptionRequest
	if err := subscriptionRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	if err := rs.Iot.Store.SaveSubscription(c.Request.Context(), &models.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}); err != nil {
		rs.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (rs *RestfulServer) DeleteSubscription(c *gin.Context) {
	var req UnsubscribeRequest
	if err := unsubscribeRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	if err := rs.Iot.Store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		rs.abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
