package textfsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showInterfacesOutput = `GigabitEthernet1/0/1 is up, line protocol is up (connected)
  Hardware is Gigabit Ethernet, address is 5254.0012.3401 (bia 5254.0012.3401)
  Description: uplink to core
  MTU 1500 bytes, BW 1000000 Kbit/sec, DLY 10 usec,
     reliability 255/255, txload 1/255, rxload 1/255
  Encapsulation ARPA, loopback not set
  Full-duplex, 1000Mb/s, media type is 10/100/1000BaseTX
  5 minute input rate 2000 bits/sec, 3 packets/sec
  5 minute output rate 1000 bits/sec, 1 packets/sec
     120345 packets input, 9876543 bytes, 0 no buffer
     4 input errors, 1 CRC, 0 frame, 0 overrun, 0 ignored
     98765 packets output, 7654321 bytes, 0 underruns
     2 output errors, 0 collisions, 1 interface resets
GigabitEthernet1/0/2 is administratively down, line protocol is down (disabled)
  Hardware is Gigabit Ethernet, address is 5254.0012.3402 (bia 5254.0012.3402)
  MTU 1500 bytes, BW 10000 Kbit/sec, DLY 1000 usec,
  Auto-duplex, Auto-speed, media type is 10/100/1000BaseTX
     0 packets input, 0 bytes, 0 no buffer
     0 input errors, 0 CRC, 0 frame, 0 overrun, 0 ignored
     0 packets output, 0 bytes, 0 underruns
     0 output errors, 0 collisions, 0 interface resets
Vlan10 is up, line protocol is up
  Hardware is EtherSVI, address is 5254.0012.3400 (bia 5254.0012.3400)
  Internet address is 10.10.0.1/24
  MTU 1500 bytes, BW 1000000 Kbit/sec, DLY 10 usec,
     500 packets input, 64000 bytes, 0 no buffer
     0 input errors, 0 CRC, 0 frame, 0 overrun, 0 ignored
     200 packets output, 32000 bytes, 0 underruns
     0 output errors, 0 interface resets
`

func TestShowInterfacesTemplate(t *testing.T) {
	rows, err := ParseWith(ShowInterfaces, showInterfacesOutput)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	gi1 := rows[0]
	assert.Equal(t, "GigabitEthernet1/0/1", gi1.String("INTERFACE"))
	assert.Equal(t, "up", gi1.String("LINK_STATUS"))
	assert.Equal(t, "up", gi1.String("PROTOCOL_STATUS"))
	assert.Equal(t, "Gigabit Ethernet", gi1.String("HARDWARE_TYPE"))
	assert.Equal(t, "5254.0012.3401", gi1.String("MAC_ADDRESS"))
	assert.Equal(t, "uplink to core", gi1.String("DESCRIPTION"))
	assert.Equal(t, "1000000 Kbit/sec", gi1.String("BANDWIDTH"))
	assert.Equal(t, "10 usec", gi1.String("DELAY"))
	assert.Equal(t, "ARPA", gi1.String("ENCAPSULATION"))
	assert.Equal(t, "Full", gi1.String("DUPLEX"))
	assert.Equal(t, "1000Mb/s", gi1.String("SPEED"))
	assert.Equal(t, "10/100/1000BaseTX", gi1.String("MEDIA_TYPE"))
	assert.Equal(t, "120345", gi1.String("INPUT_PACKETS"))
	assert.Equal(t, "4", gi1.String("INPUT_ERRORS"))
	assert.Equal(t, "1", gi1.String("CRC"))
	assert.Equal(t, "98765", gi1.String("OUTPUT_PACKETS"))
	assert.Equal(t, "2", gi1.String("OUTPUT_ERRORS"))

	gi2 := rows[1]
	assert.Equal(t, "GigabitEthernet1/0/2", gi2.String("INTERFACE"))
	assert.Equal(t, "administratively down", gi2.String("LINK_STATUS"))
	assert.Equal(t, "down", gi2.String("PROTOCOL_STATUS"))
	assert.Equal(t, "Auto", gi2.String("DUPLEX"))
	assert.Equal(t, "Auto-speed", gi2.String("SPEED"))
	assert.Empty(t, gi2.String("DESCRIPTION"), "values must not leak between records")

	vlan := rows[2]
	assert.Equal(t, "Vlan10", vlan.String("INTERFACE"))
	assert.Equal(t, "10.10.0.1/24", vlan.String("IP_ADDRESS"))
	assert.Equal(t, "EtherSVI", vlan.String("HARDWARE_TYPE"))
	assert.Equal(t, "500", vlan.String("INPUT_PACKETS"))
}

func TestShowMacAddressTableTemplate(t *testing.T) {
	output := `          Mac Address Table
-------------------------------------------

Vlan    Mac Address       Type        Ports
----    -----------       --------    -----
   1    0050.7966.6800    DYNAMIC     Gi1/0/1
  10    0050.7966.6801    STATIC      Gi1/0/1
Total Mac Addresses for this criterion: 2
`
	rows, err := ParseWith(ShowMacAddressTable, output)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "0050.7966.6800", rows[0].String("DESTINATION_ADDRESS"))
	assert.Equal(t, "DYNAMIC", rows[0].String("TYPE"))
	assert.Equal(t, "1", rows[0].String("VLAN"))
	assert.Equal(t, []string{"Gi1/0/1"}, rows[0]["DESTINATION_PORT"])
	assert.Equal(t, "10", rows[1].String("VLAN"))
}

func TestShowIPDHCPBindingTemplate(t *testing.T) {
	output := `Bindings from all pools not associated with VRF:
IP address          Client-ID/              Lease expiration        Type       State      Interface
                    Hardware address/
                    User name
192.168.1.10        0100.5079.6668.00       Mar 01 2024 12:00 AM    Automatic  Active     Vlan1
192.168.1.20        0152.5400.1234.56       Infinite                Manual     Active     Vlan1
`
	rows, err := ParseWith(ShowIPDHCPBinding, output)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Record{
		"IP_ADDRESS":       "192.168.1.10",
		"MAC_ADDRESS":      "0100.5079.6668.00",
		"LEASE_EXPIRATION": "Mar 01 2024 12:00 AM",
		"BINDING_TYPE":     "Automatic",
	}, rows[0])
	assert.Equal(t, "Infinite", rows[1].String("LEASE_EXPIRATION"))
	assert.Equal(t, "Manual", rows[1].String("BINDING_TYPE"))
}

func TestEmbeddedTemplatesCompile(t *testing.T) {
	names := Names()
	assert.ElementsMatch(t, []string{ShowInterfaces, ShowMacAddressTable, ShowIPDHCPBinding}, names)

	_, err := Lookup("does_not_exist")
	assert.Error(t, err)
}

func TestFilldownAndRequired(t *testing.T) {
	tmpl, err := Parse(`Value Filldown CHASSIS (\S+)
Value Required SLOT (\d+)
Value MODEL (\S+)

Start
  ^Chassis\s+${CHASSIS}
  ^\s+slot\s+${SLOT}\s+${MODEL} -> Record
  ^\s+slot\s+empty -> Record
`)
	require.NoError(t, err)

	rows, err := tmpl.ParseText("Chassis A\n  slot 1 X1\n  slot empty\n  slot 2 X2\nChassis B\n  slot 1 Y1\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"A", "1", "X1"},
		{"A", "2", "X2"},
		{"B", "1", "Y1"},
	}, rows)
	assert.Equal(t, []string{"CHASSIS", "SLOT", "MODEL"}, tmpl.Header())
}

func TestStateTransitionsAndEOF(t *testing.T) {
	tmpl, err := Parse(`Value NAME (\w+)

Start
  ^BEGIN -> Body

Body
  ^item\s+${NAME} -> Record
  ^END -> Start

EOF
`)
	require.NoError(t, err)

	rows, err := tmpl.ParseText("item ignored\nBEGIN\nitem one\nitem two\nEND\nitem skipped\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"one"}, {"two"}}, rows)
}

func TestImplicitEOFRecord(t *testing.T) {
	tmpl := MustParse(`Value HOST (\S+)

Start
  ^hostname\s+${HOST}
`)
	rows, err := tmpl.ParseText("hostname sw1\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"sw1"}}, rows)
}

func TestContinueAndClear(t *testing.T) {
	tmpl := MustParse(`Value A (\w+)
Value B (\w+)

Start
  ^${A}\s+\w+ -> Continue
  ^\w+\s+${B} -> Record
  ^reset -> Clearall
`)
	rows, err := tmpl.ParseText("x y\np q\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"x", "y"}, {"p", "q"}}, rows)
}

func TestErrorAction(t *testing.T) {
	tmpl := MustParse(`Value A (\w+)

Start
  ^bad -> Error "unexpected input"
  ^${A}
`)
	_, err := tmpl.ParseText("ok\nbad\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuleError))
	assert.Contains(t, err.Error(), "unexpected input")
}

func TestTemplateSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no values", "Start\n  ^x\n"},
		{"unknown option", "Value Bogus A (\\w+)\n\nStart\n  ^${A}\n"},
		{"missing start", "Value A (\\w+)\n\nOther\n  ^${A}\n"},
		{"unknown value reference", "Value A (\\w+)\n\nStart\n  ^${B}\n"},
		{"unknown target state", "Value A (\\w+)\n\nStart\n  ^${A} -> Nowhere\n"},
		{"continue with state", "Value A (\\w+)\n\nStart\n  ^${A} -> Continue Start\n"},
		{"rule without caret", "Value A (\\w+)\n\nStart\n  ${A}\n"},
		{"duplicate value", "Value A (\\w+)\nValue A (\\d+)\n\nStart\n  ^${A}\n"},
		{"bad regex", "Value A ([)\n\nStart\n  ^${A}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTemplate), "got %v", err)
		})
	}
}

func TestListValues(t *testing.T) {
	tmpl := MustParse(`Value NAME (\w+)
Value List MEMBERS (\w+)

Start
  ^group\s+${NAME} -> Continue
  ^\s+member\s+${MEMBERS}
  ^end -> Record
`)
	rows, err := tmpl.ParseTextToDicts("group admins\n  member alice\n  member bob\nend\ngroup empty\nend\n")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"alice", "bob"}, rows[0]["MEMBERS"])
	assert.Equal(t, "alice bob", rows[0].String("MEMBERS"))
	assert.Equal(t, []string{}, rows[1]["MEMBERS"])
}

func TestFillup(t *testing.T) {
	tmpl := MustParse(`Value Fillup A (\S+)
Value B (\S+)

Start
  ^b ${B} -> Record
  ^a ${A}
  ^c -> Clear
`)
	rows, err := tmpl.ParseText("b 1\na X\nc\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"X", "1"}}, rows)

	// Filling stops at the first row that already has the column
	rows, err = tmpl.ParseText("b 1\na X\nb 2\nb 3\na Y\nc\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"X", "1"}, {"X", "2"}, {"Y", "3"}}, rows)
}

func TestTrailingNewlineIsNotALine(t *testing.T) {
	tmpl := MustParse(`Value LINE (.+)

Start
  ^$$ -> Error "blank line"
  ^${LINE} -> Record
`)
	rows, err := tmpl.ParseText("one\r\ntwo\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"one"}, {"two"}}, rows)

	rows, err = tmpl.ParseText("")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = tmpl.ParseText("one\n\ntwo")
	assert.True(t, errors.Is(err, ErrRuleError))
}

func TestUnmatchedOptionalGroupResetsValue(t *testing.T) {
	tmpl := MustParse(`Value A (\w+)
Value B (\w+)

Start
  ^first ${B}
  ^row ${A}(\s+${B})? -> Record
`)
	rows, err := tmpl.ParseText("first stale\nrow one\nrow two extra\n")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"one", ""}, {"two", "extra"}}, rows)
}
