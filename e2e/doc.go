package e2e

// e2e contains integration tests that run a whole send cycle from a YAML
// config against the in-process SMTP server, along with the utility code
// required to set up that environment. (These were intended to be
// end-to-end tests but became integration tests instead, hence the name.)
