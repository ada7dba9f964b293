// Package orchestrator is the command façade of devstack.
//
// Every verb of the CLI maps to one method of Orchestrator. A method loads the
// app descriptor, builds the service graph, observes the live state of the
// app's containers and hands both to the reconciler. It then updates the app
// registry so that list and poweroff work from any directory.
//
// # Lifecycle verbs
//
//   - Start creates missing containers and starts stopped ones, dependencies
//     first. Running services are left alone.
//   - Stop stops running services, dependents first.
//   - Restart stops and starts the app. If nothing was running it only starts.
//   - Rebuild destroys the app and starts it again from a freshly loaded
//     descriptor, pulling every image.
//   - Destroy removes every container and, once all are gone, the app network,
//     its data volumes and its registry entry.
//   - Poweroff stops every managed app, registered or merely labelled.
//
// # Introspection
//
// Info, List, Logs and Share never change backend state.
//
// # Serialization
//
// Start, Restart, Rebuild and Destroy hold the registry lock of the app from
// the first backend call until the registry is updated, so a destroy never
// deregisters an app that a concurrent start is bringing up.
package orchestrator
