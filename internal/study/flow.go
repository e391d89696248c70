package study

import "net/url"

// Route identifies one of the participant-facing pages.
type Route string

const (
	RouteLanding         Route = "/"
	RouteDemographics    Route = "/demographics"
	RouteDetectionGame   Route = "/detection-game"
	RouteElicitationGame Route = "/elicitation-game"
	RouteComplete        Route = "/complete"
)

// GameRoute maps a game type to its page.
func GameRoute(gt GameType) Route {
	if gt == GameTypeElicitation {
		return RouteElicitationGame
	}
	return RouteDetectionGame
}

// routeGameType maps a game page back to its game type.
func routeGameType(route Route) (GameType, bool) {
	switch route {
	case RouteDetectionGame:
		return GameTypeDetection, true
	case RouteElicitationGame:
		return GameTypeElicitation, true
	}
	return "", false
}

// Decision is the outcome of gating one page request. When Allow is false
// the caller must redirect to RedirectTo (query string included). Skip
// signals that the testing shortcut is engaged and the caller should
// provision a session with stamped demographics before entering a game.
type Decision struct {
	Allow      bool
	RedirectTo string
	Skip       bool
}

// Decide gates navigation for a page request. It is pure: it inspects the
// session and query parameters and never mutates either. The demo and sp
// parameters are preserved on every redirect so a participant's link
// variant survives the whole flow.
func Decide(route Route, sess *Session, params url.Values) Decision {
	skip := params.Get("skip") == "true"

	if route == RouteLanding {
		return Decision{Allow: true, Skip: skip}
	}

	// Every page past the landing needs a session. The game the route
	// implies rides along so the landing page creates the session the
	// participant was heading for.
	if sess == nil {
		intent, _ := routeGameType(route)
		if skip {
			return Decision{Allow: false, Skip: true, RedirectTo: redirectTo(RouteLanding, params, nil, intent)}
		}
		return Decision{Allow: false, RedirectTo: redirectTo(RouteLanding, params, nil, intent)}
	}

	// A session locked to one game never enters the other.
	if want, ok := routeGameType(route); ok && want != sess.GameType {
		return Decision{Allow: false, RedirectTo: redirectTo(GameRoute(sess.GameType), params, sess, "")}
	}

	// Games and the completion page need demographics first.
	if route != RouteDemographics && !sess.HasDemographics() {
		if skip {
			return Decision{Allow: false, Skip: true, RedirectTo: redirectTo(route, params, sess, "")}
		}
		return Decision{Allow: false, RedirectTo: redirectTo(RouteDemographics, params, sess, "")}
	}

	return Decision{Allow: true, Skip: skip}
}

// redirectTo builds a redirect target carrying the demo and sp parameters
// forward. The session's demo flag wins over the query parameter once a
// session exists. An explicit game parameter wins over the intent derived
// from the route that triggered the redirect.
func redirectTo(route Route, params url.Values, sess *Session, intent GameType) string {
	q := url.Values{}
	if sess != nil {
		if sess.IsDemo {
			q.Set("demo", "true")
		}
	} else if params.Get("demo") == "true" {
		q.Set("demo", "true")
	}
	if sp := params.Get("sp"); sp != "" {
		q.Set("sp", sp)
	}
	if params.Get("skip") == "true" {
		q.Set("skip", "true")
	}
	if game := params.Get("game"); game != "" {
		q.Set("game", game)
	} else if intent != "" {
		q.Set("game", string(intent))
	}
	target := string(route)
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}
