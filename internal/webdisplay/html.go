package webdisplay

import "html/template"

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Service}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #ddd; margin: 0; }
        .header { padding: 12px 20px; background: #1b1b1b; display: flex; gap: 16px; align-items: center; }
        .title { font-size: 20px; font-weight: bold; }
        .badge { padding: 2px 8px; border-radius: 4px; background: #333; font-size: 12px; }
        .badge.halted { background: #a22; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px; }
        .panel { background: #1b1b1b; padding: 12px; border-radius: 6px; }
        img { width: 100%; height: auto; display: block; background: #000; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td, th { text-align: left; padding: 2px 6px; }
        button { margin-right: 6px; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">{{.Service}}</div>
        <span class="badge" id="mode-badge">waiting...</span>
        <span class="badge" id="recognition-badge"></span>
        <span class="badge" id="channel-badge">results: SSE</span>
    </div>
    <div class="grid">
        <div class="panel">
            <img id="stream" src="/stream" alt="Live color stream">
        </div>
        <div class="panel">
            <h3>Regions</h3>
            <table>
                <thead><tr><th>class</th><th>conf</th><th>x</th><th>y</th><th>w</th><th>h</th></tr></thead>
                <tbody id="regions"></tbody>
            </table>
            <p id="frame-info"></p>
            <h3>Status</h3>
            <pre id="status"></pre>
            <h3>Recording</h3>
            <button type="button" id="rec-start">Start</button>
            <button type="button" id="rec-stop">Stop</button>
            <span id="rec-status"></span>
            <h3>Results channel</h3>
            <button type="button" id="rtc-connect">Use WebRTC data channel</button>
        </div>
    </div>
    <script>
    function showResults(ev) {
        document.getElementById('mode-badge').textContent = ev.mode;
        document.getElementById('frame-info').textContent =
            'frame ' + ev.frame_number + ', ' + ev.num_regions + ' region(s)';
        const body = document.getElementById('regions');
        body.innerHTML = '';
        for (const r of ev.regions || []) {
            const tr = document.createElement('tr');
            for (const v of [r.class_name, r.confidence.toFixed(2), r.bbox.x, r.bbox.y, r.bbox.w, r.bbox.h]) {
                const td = document.createElement('td');
                td.textContent = v;
                tr.appendChild(td);
            }
            body.appendChild(tr);
        }
    }

    let results = new EventSource('/api/results/stream');
    results.onmessage = (e) => showResults(JSON.parse(e.data));

    const status = new EventSource('/api/status/stream');
    status.onmessage = (e) => {
        const s = JSON.parse(e.data);
        const badge = document.getElementById('recognition-badge');
        const rec = (s.session || {}).recognition || 'n/a';
        badge.textContent = 'recognition: ' + rec;
        badge.className = rec === 'halted' ? 'badge halted' : 'badge';
        document.getElementById('status').textContent = JSON.stringify(s.monitor, null, 2);
    };

    async function recording(action) {
        const resp = await fetch('/api/recording/' + action, { method: action === 'status' ? 'GET' : 'POST' });
        const body = await resp.json();
        document.getElementById('rec-status').textContent = body.error || (body.recording ? 'recording ' + body.filename : body.status || 'idle');
    }
    document.getElementById('rec-start').onclick = () => recording('start');
    document.getElementById('rec-stop').onclick = () => recording('stop');

    document.getElementById('rtc-connect').onclick = async () => {
        const pc = new RTCPeerConnection({ iceServers: [] });
        const dc = pc.createDataChannel('or-results');
        dc.onopen = () => {
            results.close();
            document.getElementById('channel-badge').textContent = 'results: WebRTC';
        };
        dc.onmessage = (e) => showResults(JSON.parse(e.data));
        const offer = await pc.createOffer();
        await pc.setLocalDescription(offer);
        await new Promise((resolve) => {
            if (pc.iceGatheringState === 'complete') return resolve();
            pc.onicegatheringstatechange = () => pc.iceGatheringState === 'complete' && resolve();
        });
        const resp = await fetch('/api/webrtc/offer', {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify(pc.localDescription),
        });
        if (!resp.ok) {
            document.getElementById('channel-badge').textContent = 'results: SSE (' + (await resp.json()).error + ')';
            return;
        }
        await pc.setRemoteDescription(await resp.json());
    };
    </script>
</body>
</html>
`))
