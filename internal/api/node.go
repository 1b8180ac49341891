package api

import (
	"strconv"

	"lnhub/internal/apierr"
	"lnhub/internal/lnd"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) getInfo(c *fiber.Ctx) error {
	info, err := s.node.GetInfo(c.UserContext())
	if err != nil {
		return apierr.NodeError.Wrap(err)
	}
	return c.JSON(info)
}

func (s *Server) decodeInvoice(c *fiber.Ctx) error {
	invoice := c.Query("invoice")
	if invoice == "" {
		return apierr.GeneralServerError
	}

	decoded, err := s.node.DecodePayReq(c.UserContext(), invoice)
	if err != nil {
		return apierr.NotAValidInvoice.Wrap(err)
	}
	return c.JSON(decoded)
}

func (s *Server) queryRoutes(c *fiber.Ctx) error {
	amt, err := strconv.ParseInt(c.Params("amt"), 10, 64)
	if err != nil || amt <= 0 {
		return apierr.BadArguments.WithMessage("amt must be a positive integer")
	}

	routes, err := s.node.QueryRoutes(c.UserContext(), lnd.QueryRoutesRequest{
		SourcePubKey: c.Params("source"),
		DestPubKey:   c.Params("dest"),
		AmtSat:       amt,
	})
	if err != nil {
		return apierr.NodeError.Wrap(err)
	}
	return c.JSON(fiber.Map{"routes": routes})
}

// getChanInfo looks the channel up in a graph snapshot reused for GraphTTL.
// An unknown channel yields an empty body.
func (s *Server) getChanInfo(c *fiber.Ctx) error {
	chanID, err := strconv.ParseUint(c.Params("chanid"), 10, 64)
	if err != nil {
		return apierr.BadArguments.WithMessage("chanid must be a short channel id")
	}

	graph, ok := s.graph.Get("graph")
	if !ok {
		if graph, err = s.node.DescribeGraph(c.UserContext()); err != nil {
			return apierr.NodeError.Wrap(err)
		}
		s.graph.Add("graph", graph)
	}

	edge, found := graph.Edge(chanID)
	if !found {
		return c.SendString("")
	}
	return c.JSON(edge)
}
