package rules

// HardcodedDeny lists destructive shell patterns that are never auto-approved.
// Configuration cannot remove or override them.
var HardcodedDeny = []string{
	// recursive delete of root or home
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -rf $home",
	"rm -fr /",
	"rm -rf --no-preserve-root",
	"del /f /s /q c:\\",
	"rd /s /q c:\\",
	"remove-item -recurse -force c:\\",

	// disk format
	"mkfs",
	"format c:",
	"diskpart",

	// fork bomb
	":(){ :|:& };:",
	":(){:|:&};:",

	// disk zeroing
	"dd if=/dev/zero",
	"dd if=/dev/random",
	"dd if=/dev/urandom of=/dev/",
	"> /dev/sda",
	"of=/dev/sda",

	// power state
	"shutdown",
	"reboot",
	"poweroff",
	"halt",
	"init 0",
	"init 6",
	"stop-computer",
	"restart-computer",

	// permission wipe
	"chmod -r 777 /",
}
