package ruledb

// criticalSystemBinarySigningIDs is the hard-coded seed list of OS-vendor
// signing-ids whose misclassification would brick the host (§4.3.1,
// GLOSSARY "Critical system binary"). Read at startup only; §6.5 states
// there is no dynamic reconfiguration of this set.
var criticalSystemBinarySigningIDs = []string{
	"platform:com.apple.launchd",
	"platform:com.apple.xpcproxy",
	"platform:com.apple.kextd",
	"platform:com.apple.securityd",
	"platform:com.apple.trustd",
	"platform:com.apple.syspolicyd",
	"platform:com.apple.WindowServer",
	"platform:com.apple.loginwindow",
	"platform:com.apple.cfprefsd",
	"platform:com.apple.diskarbitrationd",
}
