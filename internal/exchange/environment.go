package exchange

import "github.com/aristath/cryptotrader/internal/config"

// BaseURLs is the REST/WS endpoint triple for one exchange environment.
type BaseURLs struct {
	REST       string
	WSPublic   string
	WSPrivate  string
}

// baseURLsByEnvironment mirrors the exchange's published endpoint set.
// Live and testnet are real network targets; demo is a sandboxed
// practice-money venue that shares the live public market-data stream
// and has its own REST base and private stream.
var baseURLsByEnvironment = map[config.Environment]BaseURLs{
	config.EnvironmentLive: {
		REST:      "https://api.exchange.example.com",
		WSPublic:  "wss://stream.exchange.example.com/v5/public",
		WSPrivate: "wss://stream.exchange.example.com/v5/private",
	},
	config.EnvironmentTestnet: {
		REST:      "https://api-testnet.exchange.example.com",
		WSPublic:  "wss://stream-testnet.exchange.example.com/v5/public",
		WSPrivate: "wss://stream-testnet.exchange.example.com/v5/private",
	},
	config.EnvironmentDemo: {
		REST:      "https://api-demo.exchange.example.com",
		WSPublic:  "wss://stream.exchange.example.com/v5/public",
		WSPrivate: "wss://stream-demo.exchange.example.com/v5/private",
	},
}

// ResolveBaseURLs returns the endpoint triple for an environment, falling
// back to testnet for an unrecognized value rather than silently hitting
// production.
func ResolveBaseURLs(env config.Environment) BaseURLs {
	if urls, ok := baseURLsByEnvironment[env]; ok {
		return urls
	}
	return baseURLsByEnvironment[config.EnvironmentTestnet]
}
