/*
Package safe guarantees that every mounted handler's failure reaches the
error boundary.

A Handler returns an error instead of writing a failure response itself.
Handle and Wrap convert returned errors and panics into a recorded gin
error plus an aborted chain; the boundary middleware answers those with a
generic 500. Router only accepts handlers it can wrap, so route
registrars never see the raw gin engine.

	func (h *Handlers) Register(r *safe.Router) {
		api := r.Group("/api", auth.RequireAuth())
		api.GET("/me", h.Me)
	}

	func (h *Handlers) Me(c *gin.Context) error {
		user, err := h.store.GetUserBySubject(c.Request.Context(), sub)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		c.JSON(http.StatusOK, user)
		return nil
	}

Work a handler awaits on another goroutine goes through Go so that its
panics are recovered and delivered as errors too.
*/
package safe
