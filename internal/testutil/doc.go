// Package testutil contains helper builders and tasks used across tests to
// reduce boilerplate when constructing states and graphs (static, flaky,
// failing and sleeping tasks; an execution-order recorder). These helpers
// are not intended for production usage.
package testutil
