package stripe

import (
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("stripe.provider",
	fx.Provide(NewClient),
	fx.Provide(
		func(c *Client) checkoutdomain.Gateway { return c },
		func(c *Client) creditmemodomain.Refunder { return c },
	),
)
