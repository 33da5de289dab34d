/*
Package config loads broker configuration from the environment.

Every setting has a sane default and can be overridden through a TACORE_*
environment variable (TACORE_FRONTEND_PORT, TACORE_WORKERS, ...) or an
optional YAML file passed with --config. Environment values take precedence
over file values. Validation rejects out-of-range ports, port collisions
between the four listeners, and empty worker pools before any socket is
bound.
*/
package config
