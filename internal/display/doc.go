// Package display is the display-server substrate the trust core runs on.
//
// A Display owns a single control flow: every mutation of clients,
// resources, globals and anything built on top of them (keybinding
// registrations, authorization records) happens inside functions executed by
// Run. Other goroutines hand work to the loop with Post or Do.
//
// Each Client has two goroutines:
//   - a reader that decodes requests and posts them to the loop
//   - a writer that drains a bounded queue of encoded events
//
// A client whose queue fills up is destroyed rather than allowed to stall
// the loop.
//
// Core protocol objects implemented here:
//   - wl_display (object 1): sync, get_registry; events error, delete_id
//   - wl_registry: bind; events global, global_remove
//   - wl_callback: done
package display
